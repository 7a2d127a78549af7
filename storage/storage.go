/*
Copyright © 2021 the Krogh authors.
This file is part of Krogh.

Krogh is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Krogh is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Krogh.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package storage reads and writes files that may be kept in blob
// storage buckets.
package storage

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// IsBlob returns whether the given path refers to blob storage, i.e.
// whether it starts with 'gs://', 's3://' or 'file://'.
func IsBlob(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "file://")
}

// OpenBucket returns the bucket specified by bucketName, which must be in
// the format 'provider://name'. The accepted providers are "file" for a
// directory in the local filesystem, "gs" for Google Cloud Storage and
// "s3" for AWS S3. Any path after the name is ignored.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketName)
	if err != nil {
		return nil, fmt.Errorf("storage: %v", err)
	}
	switch u.Scheme {
	case "file":
		return fileblob.OpenBucket(u.Hostname(), nil)
	case "gs":
		return gsBucket(ctx, u.Hostname())
	case "s3":
		return s3Bucket(ctx, u.Hostname())
	default:
		return nil, fmt.Errorf("storage: invalid provider '%s'", u.Scheme)
	}
}

func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an S3 bucket using the AWS_REGION, AWS_ACCESS_KEY_ID
// and AWS_SECRET_ACCESS_KEY environment variables.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s, err := session.NewSession(c)
	if err != nil {
		return nil, err
	}
	return s3blob.OpenBucket(ctx, s, name, nil)
}

// split returns the bucket and key of a blob path.
func split(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("storage: parsing '%s': %v", path, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("storage: '%s' has no file name", path)
	}
	return u.Scheme + "://" + u.Host, key, nil
}

// Uploader stages output files locally and uploads the ones destined
// for blob storage after they have been written.
type Uploader struct {
	// Log receives retry messages. The default is the standard logger.
	Log logrus.FieldLogger

	// MaxRetries is the number of times a failed upload is retried.
	MaxRetries uint64

	// files holds pairs of local paths and the blob paths they are
	// uploaded to.
	files [][2]string
	dir   string
	err   error
}

// Local returns the local path where the output file path should be
// written. For blob paths this is a file in a temporary directory that
// Upload copies to the bucket; other paths are returned unchanged.
func (u *Uploader) Local(path string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	if !IsBlob(path) {
		return path, nil
	}
	if _, _, err := split(path); err != nil {
		return "", err
	}
	if u.dir == "" {
		u.dir, u.err = ioutil.TempDir("", "krogh")
		if u.err != nil {
			return "", fmt.Errorf("storage: creating staging directory: %v", u.err)
		}
	}
	local := filepath.Join(u.dir, fmt.Sprintf("%d_%s", len(u.files), filepath.Base(path)))
	u.files = append(u.files, [2]string{local, path})
	return local, nil
}

// Upload copies the staged files to blob storage, retrying failed
// uploads with exponential backoff, and then removes the staging
// directory.
func (u *Uploader) Upload(ctx context.Context) error {
	if u.err != nil {
		return u.err
	}
	log := u.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	for _, files := range u.files {
		files := files
		err := backoff.RetryNotify(
			func() error { return upload(ctx, files[0], files[1]) },
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), u.MaxRetries),
			func(err error, d time.Duration) {
				log.Warnf("%v: retrying in %v", err, d)
			},
		)
		if err != nil {
			return err
		}
	}
	u.files = nil
	if u.dir != "" {
		if err := os.RemoveAll(u.dir); err != nil {
			return fmt.Errorf("storage: removing staging directory: %v", err)
		}
		u.dir = ""
	}
	return nil
}

func upload(ctx context.Context, local, path string) error {
	r, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("storage: opening file '%s' for upload: %v", local, err)
	}
	defer r.Close()
	bucketName, key, err := split(path)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("storage: opening bucket to upload '%s': %v", path, err)
	}
	defer bucket.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("storage: opening writer to upload '%s': %v", path, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("storage: uploading '%s' to '%s': %v", local, path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: uploading '%s' to '%s': %v", local, path, err)
	}
	return nil
}

// Download returns a local path to the input file path. Blob paths are
// copied to a temporary file, which the caller should remove when it is
// no longer needed; other paths are returned unchanged.
func Download(ctx context.Context, path string) (string, error) {
	if !IsBlob(path) {
		return path, nil
	}
	bucketName, key, err := split(path)
	if err != nil {
		return "", err
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return "", fmt.Errorf("storage: opening bucket to download '%s': %v", path, err)
	}
	defer bucket.Close()
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return "", fmt.Errorf("storage: reading '%s': %v", path, err)
	}
	defer r.Close()
	w, err := ioutil.TempFile("", "krogh_*"+filepath.Ext(key))
	if err != nil {
		return "", fmt.Errorf("storage: creating download file: %v", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("storage: downloading '%s': %v", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: downloading '%s': %v", path, err)
	}
	return w.Name(), nil
}
