package modpath

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func testAssembler(t *testing.T) *Assembler {
	t.Helper()
	return &Assembler{
		TaskRoot:         t.TempDir(),
		RuntimeModuleDir: "/opt/pulsar/modules",
		LayerRoot:        t.TempDir(),
		UnpackRoot:       filepath.Join(t.TempDir(), "scratch"),
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range files {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func TestAssemble_NoBundles(t *testing.T) {
	a := testAssembler(t)

	entries, err := a.Assemble()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		a.RuntimeModuleDir,
		filepath.Join(a.LayerRoot, "modules"),
		filepath.Join(a.TaskRoot, "modules"),
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", len(entries), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], entries[i])
		}
	}
}

func TestAssemble_CombinedArchiveAtLayer(t *testing.T) {
	a := testAssembler(t)
	writeZip(t, filepath.Join(a.LayerRoot, CombinedArchiveName), map[string]string{
		"AWS.Tools.Common/AWS.Tools.Common.psd1": "@{ModuleVersion='4.1.0'}",
	})

	entries, err := a.Assemble()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d: %v", len(entries), entries)
	}
	unpackDir := entries[3]
	manifest := filepath.Join(unpackDir, "AWS.Tools.Common", "AWS.Tools.Common.psd1")
	if _, err := os.Stat(manifest); err != nil {
		t.Fatalf("expected unpacked manifest at %s: %v", manifest, err)
	}
}

func TestAssemble_UnpackRunsOnce(t *testing.T) {
	a := testAssembler(t)
	archive := filepath.Join(a.LayerRoot, CombinedArchiveName)
	writeZip(t, archive, map[string]string{"M/M.psm1": "function F {}"})

	first, err := a.Assemble()
	if err != nil {
		t.Fatalf("first assemble: %v", err)
	}

	// Remove the archive; a second pass must rely on the existing scratch
	// directory rather than re-unpacking.
	if err := os.Remove(archive); err != nil {
		t.Fatalf("remove archive: %v", err)
	}

	second, err := a.Assemble()
	if err != nil {
		t.Fatalf("second assemble: %v", err)
	}
	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("expected 4 entries on both passes, got %d then %d", len(first), len(second))
	}
	if first[3] != second[3] {
		t.Fatalf("unpack dir changed between passes: %s vs %s", first[3], second[3])
	}
}

func TestAssemble_PackagedModules(t *testing.T) {
	a := testAssembler(t)
	pkgDir := filepath.Join(a.TaskRoot, PackagedModuleDirName)
	writeZip(t, filepath.Join(pkgDir, "Posh-Tools.zip"), map[string]string{
		"Posh-Tools.psd1": "@{}",
	})

	entries, err := a.Assemble()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d: %v", len(entries), entries)
	}
	manifest := filepath.Join(entries[3], "Posh-Tools", "Posh-Tools.psd1")
	if _, err := os.Stat(manifest); err != nil {
		t.Fatalf("expected module installed at %s: %v", manifest, err)
	}
}

func TestAssemble_CorruptArchiveFatal(t *testing.T) {
	a := testAssembler(t)
	bad := filepath.Join(a.LayerRoot, CombinedArchiveName)
	if err := os.WriteFile(bad, []byte("not a zip file"), 0644); err != nil {
		t.Fatalf("write corrupt archive: %v", err)
	}

	if _, err := a.Assemble(); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
}

func TestPublish(t *testing.T) {
	a := testAssembler(t)
	t.Setenv(EnvModulePath, "")

	if err := a.Publish([]string{"/a", "/b"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := "/a" + string(os.PathListSeparator) + "/b"
	if got := os.Getenv(EnvModulePath); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
