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

package storage

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

// inTempDir runs f in a new temporary working directory containing an
// empty directory named bucket.
func inTempDir(t *testing.T, f func(dir string)) {
	t.Helper()
	dir, err := ioutil.TempDir("", "krogh_storage")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	if err := os.Mkdir("bucket", 0755); err != nil {
		t.Fatal(err)
	}
	f(dir)
}

func TestIsBlob(t *testing.T) {
	for path, want := range map[string]bool{
		"gs://bucket/out.csv":   true,
		"s3://bucket/out.csv":   true,
		"file://bucket/out.csv": true,
		"out.csv":               false,
		"/tmp/out.csv":          false,
	} {
		if IsBlob(path) != want {
			t.Errorf("%s: want %v", path, want)
		}
	}
}

func TestUploadDownload(t *testing.T) {
	inTempDir(t, func(dir string) {
		ctx := context.Background()
		u := &Uploader{}
		local, err := u.Local("plain.csv")
		if err != nil || local != "plain.csv" {
			t.Fatalf("local path %s, %v", local, err)
		}
		local, err = u.Local("file://bucket/runs/results.csv")
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Ext(local) != ".csv" {
			t.Errorf("staged file %s lost its extension", local)
		}
		if err := ioutil.WriteFile(local, []byte("a,b\n1,2\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := u.Upload(ctx); err != nil {
			t.Fatal(err)
		}
		b, err := ioutil.ReadFile(filepath.Join(dir, "bucket", "runs", "results.csv"))
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "a,b\n1,2\n" {
			t.Errorf("uploaded %q", b)
		}
		if _, err := os.Stat(local); !os.IsNotExist(err) {
			t.Error("staging file was not removed")
		}

		path, err := Download(ctx, "file://bucket/runs/results.csv")
		if err != nil {
			t.Fatal(err)
		}
		defer os.Remove(path)
		b, err = ioutil.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "a,b\n1,2\n" {
			t.Errorf("downloaded %q", b)
		}
		if p, err := Download(ctx, "plain.csv"); err != nil || p != "plain.csv" {
			t.Errorf("local download path %s, %v", p, err)
		}
	})
}

func TestStorageErrors(t *testing.T) {
	inTempDir(t, func(dir string) {
		ctx := context.Background()
		if _, err := OpenBucket(ctx, "ftp://bucket"); err == nil {
			t.Error("expected an error for an unknown provider")
		}
		if _, err := (&Uploader{}).Local("file://bucket"); err == nil {
			t.Error("expected an error for a path without a file name")
		}
		if _, err := Download(ctx, "file://bucket/missing.csv"); err == nil {
			t.Error("expected an error for a missing blob")
		}
		u := &Uploader{}
		if _, err := u.Local("file://nobucket/out.csv"); err != nil {
			t.Fatal(err)
		}
		// The staged file was never written.
		if err := u.Upload(ctx); err == nil {
			t.Error("expected an error for a missing staged file")
		}
	})
}
