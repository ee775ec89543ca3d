// Package modpath assembles the PowerShell module search path for the
// execution environment. The base path is three fixed directories in
// precedence order; on top of that the package detects compressed module
// bundles shipped in the function package or a layer and unpacks them once
// into scratch directories that are appended to the path.
//
// All of this runs exactly once, at cold start, before the first poll.
package modpath

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oriys/pulsar/internal/logging"
)

const (
	// EnvModulePath is the process-wide variable the assembled path is
	// published under.
	EnvModulePath = "PSModulePath"

	// CombinedArchiveName is a single zip holding many modules, produced by
	// build tooling that merges dependencies into one artifact.
	CombinedArchiveName = "modules.zip"

	// PackagedModuleDirName is a directory of individually zipped modules,
	// one archive per module.
	PackagedModuleDirName = "packaged_modules"
)

// Assembler computes and publishes the module search path. Zero values are
// filled in by New; tests override the directories directly.
type Assembler struct {
	// TaskRoot is the root of the unpacked function package.
	TaskRoot string

	// RuntimeModuleDir holds the modules bundled with the runtime itself.
	RuntimeModuleDir string

	// LayerRoot is the shared layer mount point; modules live in
	// LayerRoot/modules and packed bundles directly under LayerRoot.
	LayerRoot string

	// UnpackRoot is where packed bundles are extracted.
	UnpackRoot string
}

// New returns an Assembler with the platform's fixed directory layout.
func New(taskRoot string) *Assembler {
	return &Assembler{
		TaskRoot:         taskRoot,
		RuntimeModuleDir: "/opt/pulsar/modules",
		LayerRoot:        "/opt",
		UnpackRoot:       filepath.Join(os.TempDir(), "pulsar"),
	}
}

// Assemble returns the ordered search path: the three fixed directories,
// highest precedence first, plus the unpack directories for any packed
// bundles found. Unpacking happens at most once; a later call sees the
// existing scratch directories and skips extraction.
func (a *Assembler) Assemble() ([]string, error) {
	entries := []string{
		a.RuntimeModuleDir,
		filepath.Join(a.LayerRoot, "modules"),
		filepath.Join(a.TaskRoot, "modules"),
	}

	combined, err := a.unpackCombined()
	if err != nil {
		return nil, err
	}
	if combined != "" {
		entries = append(entries, combined)
	}

	packaged, err := a.unpackPackaged()
	if err != nil {
		return nil, err
	}
	if packaged != "" {
		entries = append(entries, packaged)
	}

	return entries, nil
}

// Publish joins the entries and sets the process-wide module path variable.
func (a *Assembler) Publish(entries []string) error {
	value := strings.Join(entries, string(os.PathListSeparator))
	if err := os.Setenv(EnvModulePath, value); err != nil {
		return fmt.Errorf("publish %s: %w", EnvModulePath, err)
	}
	logging.Op().Info("module path published", "entries", len(entries))
	return nil
}

// bundleLocations are the two well-known places packed bundles may sit,
// layer first.
func (a *Assembler) bundleLocations() []string {
	return []string{a.LayerRoot, a.TaskRoot}
}

// unpackCombined extracts any combined module archive into one scratch
// directory. Returns "" when no archive exists at either location.
func (a *Assembler) unpackCombined() (string, error) {
	dest := filepath.Join(a.UnpackRoot, "modules")
	if dirExists(dest) {
		return dest, nil
	}

	var found []string
	for _, loc := range a.bundleLocations() {
		archive := filepath.Join(loc, CombinedArchiveName)
		if fileExists(archive) {
			found = append(found, archive)
		}
	}
	if len(found) == 0 {
		return "", nil
	}

	for _, archive := range found {
		if err := extractZip(archive, dest); err != nil {
			return "", fmt.Errorf("unpack combined module archive %s: %w", archive, err)
		}
		logging.Op().Info("combined module archive unpacked", "archive", archive, "dest", dest)
	}
	return dest, nil
}

// unpackPackaged installs every individually zipped module found under the
// packaged-module directories. Each archive extracts into a subdirectory
// named after the archive, which is the module name.
func (a *Assembler) unpackPackaged() (string, error) {
	dest := filepath.Join(a.UnpackRoot, "packages")
	if dirExists(dest) {
		return dest, nil
	}

	type pkg struct{ archive, module string }
	var found []pkg
	for _, loc := range a.bundleLocations() {
		dir := filepath.Join(loc, PackagedModuleDirName)
		items, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, item := range items {
			if item.IsDir() || !strings.HasSuffix(item.Name(), ".zip") {
				continue
			}
			found = append(found, pkg{
				archive: filepath.Join(dir, item.Name()),
				module:  strings.TrimSuffix(item.Name(), ".zip"),
			})
		}
	}
	if len(found) == 0 {
		return "", nil
	}

	for _, p := range found {
		if err := extractZip(p.archive, filepath.Join(dest, p.module)); err != nil {
			return "", fmt.Errorf("unpack module package %s: %w", p.archive, err)
		}
	}
	logging.Op().Info("packaged modules installed", "count", len(found), "dest", dest)
	return dest, nil
}

// extractZip unpacks src into dest, refusing entries that escape dest.
func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("create unpack dir: %w", err)
	}

	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", f.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", f.Name, err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open archive entry %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0200)
		if err != nil {
			rc.Close()
			return fmt.Errorf("create %s: %w", f.Name, err)
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
