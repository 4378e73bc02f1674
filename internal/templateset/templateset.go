/*
Copyright 2024 The GlobalDeploy Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package templateset discovers and parses the manifests a deploy task
// consumes: an ordered list of file paths (files or directories), walked
// into a stream of (kind, manifest-bytes, file-path) triples. See
// SPEC_FULL.md section 4.1.
package templateset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"sigs.k8s.io/kustomize/api/filesys"
	"sigs.k8s.io/yaml"

	"github.com/globaldeploy/globaldeploy/internal/deployerrors"
	"github.com/globaldeploy/globaldeploy/internal/objectutil"
)

// NewFileSystem returns the on-disk filesystem used by the CLI entrypoint.
func NewFileSystem() filesys.FileSystem {
	return filesys.MakeFsOnDisk()
}

// Manifest is a single parsed document with its file origin attached.
type Manifest struct {
	Kind       string
	Name       string
	APIVersion string
	FilePath   string
	Raw        []byte
}

// id returns the (kind, name) identity used for de-duplication.
func (m Manifest) id() string { return m.Kind + "/" + m.Name }

// Load walks the given paths (files or directories, processed recursively)
// and returns every manifest found, or the first InvalidTemplateError
// encountered. Duplicate (kind, name) identities across the whole set are
// also reported as InvalidTemplateError, per spec.md section 4.1.
func Load(fs filesys.FileSystem, paths []string) ([]Manifest, error) {
	files, err := scan(fs, paths)
	if err != nil {
		return nil, err
	}

	var manifests []Manifest
	seen := make(map[string]string) // id -> file path that first defined it

	for _, file := range files {
		data, err := fs.ReadFile(file)
		if err != nil {
			return nil, &deployerrors.InvalidTemplateError{File: file, Cause: err}
		}

		objs, err := objectutil.ReadObjects(bytes.NewReader(data))
		if err != nil {
			return nil, &deployerrors.InvalidTemplateError{
				File:    file,
				Snippet: snippet(data),
				Cause:   err,
			}
		}
		for _, obj := range objs {
			raw, err := yaml.Marshal(obj)
			if err != nil {
				return nil, &deployerrors.InvalidTemplateError{File: file, Cause: err}
			}
			m := Manifest{
				Kind:       obj.GetKind(),
				Name:       obj.GetName(),
				APIVersion: obj.GetAPIVersion(),
				FilePath:   file,
				Raw:        raw,
			}
			if first, dup := seen[m.id()]; dup {
				return nil, &deployerrors.InvalidTemplateError{
					File:  file,
					Cause: fmt.Errorf("duplicate resource %s already defined in %s", m.id(), first),
				}
			}
			seen[m.id()] = file
			manifests = append(manifests, m)
		}
	}

	return manifests, nil
}

// snippet returns a short, safe-looking preview of a manifest document for
// error attribution. Callers are responsible for suppressing it entirely
// when the resource is sensitive (see spec.md section 4.6.2).
func snippet(doc []byte) string {
	const max = 280
	if len(doc) > max {
		return string(doc[:max]) + "..."
	}
	return string(doc)
}

// scan expands the input paths into a deterministic, sorted list of
// manifest files, recursing into directories.
func scan(fs filesys.FileSystem, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		if !fs.Exists(p) {
			return nil, &deployerrors.InvalidTemplateError{File: p, Cause: os.ErrNotExist}
		}
		if !fs.IsDir(p) {
			out = append(out, p)
			continue
		}
		err := fs.Walk(p, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			if ext == ".yaml" || ext == ".yml" {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, &deployerrors.InvalidTemplateError{File: p, Cause: err}
		}
	}
	sort.Strings(out)
	return out, nil
}
