// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel-hpdd/logging/debug"

	"github.com/admire-eurohpc/cargo"
	"github.com/admire-eurohpc/cargo/pkg/progress"
)

// updateInterval paces the progress callbacks for spool staging.
const updateInterval = 10 * time.Second

// ObjectStoreConfig configures the object-store backend. The daemon installs
// it before the first transfer names an object-store dataset.
type ObjectStoreConfig struct {
	Endpoint string
	Region   string
	Bucket   string
	Prefix   string
	SpoolDir string
}

var (
	objectStoreMu  sync.Mutex
	objectStoreCfg *ObjectStoreConfig
)

// SetObjectStoreConfig installs the object-store configuration.
func SetObjectStoreConfig(cfg ObjectStoreConfig) {
	objectStoreMu.Lock()
	defer objectStoreMu.Unlock()
	objectStoreCfg = &cfg
}

func init() {
	Register(cargo.DatasetObjectStore, func() (Backend, error) {
		objectStoreMu.Lock()
		cfg := objectStoreCfg
		objectStoreMu.Unlock()
		if cfg == nil {
			return nil, errors.New("object-store backend is not configured")
		}
		return NewObjectStore(*cfg)
	})
}

type spoolEntry struct {
	key      string
	spool    string
	writable bool
}

// ObjectStore implements Backend against an S3-compatible store. Objects are
// staged through a local spool file so that the byte-level pread/pwrite
// contract holds; a write-opened object is uploaded on Close.
type ObjectStore struct {
	cfg   ObjectStoreConfig
	svc   *s3.S3
	posix *Posix

	mu    sync.Mutex
	fds   map[int]*spoolEntry
	seqno uint64
}

// NewObjectStore returns an ObjectStore for the supplied configuration.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create s3 session")
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = os.TempDir()
	}
	return &ObjectStore{
		cfg:   cfg,
		svc:   s3.New(sess),
		posix: NewPosix("object-store-spool"),
		fds:   make(map[int]*spoolEntry),
	}, nil
}

// Name returns the backend's kind tag.
func (o *ObjectStore) Name() string { return cargo.DatasetObjectStore.String() }

func (o *ObjectStore) key(p string) string {
	return path.Join(o.cfg.Prefix, strings.TrimPrefix(p, "/"))
}

func (o *ObjectStore) newUploader() *s3manager.Uploader {
	return s3manager.NewUploaderWithClient(o.svc)
}

func (o *ObjectStore) newDownloader() *s3manager.Downloader {
	return s3manager.NewDownloaderWithClient(o.svc)
}

// Open stages the object behind path into a spool file and returns a
// descriptor for it. Objects opened for writing with O_CREAT start from an
// empty spool; every other open downloads the object first. Write-opened
// objects are uploaded when the descriptor is closed.
func (o *ObjectStore) Open(p string, flags int, mode uint32) (int, error) {
	o.mu.Lock()
	o.seqno++
	seq := o.seqno
	o.mu.Unlock()

	spool := path.Join(o.cfg.SpoolDir, fmt.Sprintf("cargo-s3-%d.spool", seq))
	writable := flags&(unix.O_WRONLY|unix.O_RDWR) != 0

	fd, err := o.posix.Open(spool, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC, 0600)
	if err != nil {
		return -1, err
	}

	if !writable || flags&unix.O_CREAT == 0 {
		f, err := os.OpenFile(spool, os.O_RDWR, 0600)
		if err != nil {
			o.posix.Close(fd)
			return -1, errors.Wrap(err, "open spool")
		}
		pw := progress.NewWriterAt(f, updateInterval, func(total, delta int64) error {
			debug.Printf("object-store: staging %s: %d bytes (+%d)", o.key(p), total+delta, delta)
			return nil
		})
		_, err = o.newDownloader().Download(pw, &s3.GetObjectInput{
			Bucket: aws.String(o.cfg.Bucket),
			Key:    aws.String(o.key(p)),
		})
		pw.StopUpdates()
		f.Close()
		if err != nil {
			o.posix.Close(fd)
			os.Remove(spool)
			return -1, errors.Wrapf(err, "download %s", o.key(p))
		}
		debug.Printf("object-store: staged %s to %s", o.key(p), spool)
	}

	o.mu.Lock()
	o.fds[fd] = &spoolEntry{key: o.key(p), spool: spool, writable: writable}
	o.mu.Unlock()
	return fd, nil
}

// Close uploads a write-opened spool back to the store, then discards it.
func (o *ObjectStore) Close(fd int) error {
	o.mu.Lock()
	e, ok := o.fds[fd]
	delete(o.fds, fd)
	o.mu.Unlock()
	if !ok {
		return errors.Wrap(unix.EBADF, "close")
	}

	if cerr := o.posix.Close(fd); cerr != nil {
		os.Remove(e.spool)
		return cerr
	}

	var err error
	if e.writable {
		var f *os.File
		f, err = os.Open(e.spool)
		if err == nil {
			pr := progress.NewReader(f, updateInterval, func(total, delta int64) error {
				debug.Printf("object-store: uploading %s: %d bytes (+%d)", e.key, total+delta, delta)
				return nil
			})
			_, err = o.newUploader().Upload(&s3manager.UploadInput{
				Body:        pr,
				Bucket:      aws.String(o.cfg.Bucket),
				Key:         aws.String(e.key),
				ContentType: aws.String("application/octet-stream"),
			})
			pr.StopUpdates()
			f.Close()
			err = errors.Wrapf(err, "upload %s", e.key)
		}
	}
	os.Remove(e.spool)
	return err
}

// Pread reads from the spool file.
func (o *ObjectStore) Pread(fd int, buf []byte, offset int64) (int, error) {
	return o.posix.Pread(fd, buf, offset)
}

// Pwrite writes to the spool file.
func (o *ObjectStore) Pwrite(fd int, buf []byte, offset int64) (int, error) {
	return o.posix.Pwrite(fd, buf, offset)
}

// Mkdir is implicit for object stores.
func (o *ObjectStore) Mkdir(string, uint32) error {
	return nil
}

// Readdir lists the regular objects below path.
func (o *ObjectStore) Readdir(p string) ([]string, error) {
	prefix := o.key(p)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var files []string
	err := o.svc.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(o.cfg.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, "/"+strings.TrimPrefix(key, o.cfg.Prefix+"/"))
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", prefix)
	}
	return files, nil
}

// Stat heads the object behind path. A path with objects below it is
// reported as a directory.
func (o *ObjectStore) Stat(p string) (FileInfo, error) {
	head, err := o.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(o.cfg.Bucket),
		Key:    aws.String(o.key(p)),
	})
	if err == nil {
		fi := FileInfo{Size: aws.Int64Value(head.ContentLength)}
		if head.LastModified != nil {
			fi.MTime = *head.LastModified
		}
		return fi, nil
	}

	children, lerr := o.Readdir(p)
	if lerr == nil && len(children) > 0 {
		return FileInfo{IsDir: true}, nil
	}
	return FileInfo{}, errors.Wrapf(unix.ENOENT, "stat %s", p)
}

// Unlink deletes the object behind path.
func (o *ObjectStore) Unlink(p string) error {
	_, err := o.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(o.cfg.Bucket),
		Key:    aws.String(o.key(p)),
	})
	return errors.Wrapf(err, "delete %s", o.key(p))
}

// Fallocate is a no-op; object stores reserve space implicitly.
func (o *ObjectStore) Fallocate(int, uint32, int64, int64) error {
	return nil
}

// Size returns the object's byte count.
func (o *ObjectStore) Size(p string) (int64, error) {
	fi, err := o.Stat(p)
	if err != nil {
		return 0, err
	}
	return fi.Size, nil
}
