package handler

import (
	"errors"
	"testing"
)

func TestResolve_Script(t *testing.T) {
	d, err := Resolve("handler.ps1", "/var/task")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Kind != KindScript {
		t.Fatalf("expected script kind, got %s", d.Kind)
	}
	if d.ScriptPath != "/var/task/handler.ps1" {
		t.Fatalf("unexpected script path: %s", d.ScriptPath)
	}
	if d.FunctionName != "" || d.ModuleName != "" {
		t.Fatalf("script descriptor should not carry function/module names")
	}
}

func TestResolve_ScriptInSubdirectory(t *testing.T) {
	d, err := Resolve("src/handlers/main.ps1", "/var/task")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ScriptPath != "/var/task/src/handlers/main.ps1" {
		t.Fatalf("subdirectory not preserved: %s", d.ScriptPath)
	}
}

func TestResolve_ScriptFunction(t *testing.T) {
	d, err := Resolve("handler.ps1::MyFunc", "/var/task")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Kind != KindScriptFunction {
		t.Fatalf("expected script-function kind, got %s", d.Kind)
	}
	if d.ScriptPath != "/var/task/handler.ps1" {
		t.Fatalf("unexpected script path: %s", d.ScriptPath)
	}
	if d.FunctionName != "MyFunc" {
		t.Fatalf("unexpected function name: %s", d.FunctionName)
	}
}

func TestResolve_Module(t *testing.T) {
	d, err := Resolve("Module::MyModule::MyFunc", "/var/task")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Kind != KindModule {
		t.Fatalf("expected module kind, got %s", d.Kind)
	}
	if d.ModuleName != "MyModule" || d.FunctionName != "MyFunc" {
		t.Fatalf("unexpected module/function: %s/%s", d.ModuleName, d.FunctionName)
	}
	if d.ScriptPath != "" {
		t.Fatalf("module descriptor should not carry a script path")
	}
}

func TestResolve_ModuleKeywordCaseInsensitive(t *testing.T) {
	for _, keyword := range []string{"module", "MODULE", "mOdUlE"} {
		d, err := Resolve(keyword+"::M::F", "/var/task")
		if err != nil {
			t.Fatalf("keyword %q: unexpected error: %v", keyword, err)
		}
		if d.Kind != KindModule {
			t.Fatalf("keyword %q: expected module kind, got %s", keyword, d.Kind)
		}
	}
}

func TestResolve_Invalid(t *testing.T) {
	cases := []string{
		"",
		"handler",
		"handler.txt",
		"handler.ps1::",
		"handler.ps1::Mod::Func",
		"Module::OnlyModule",
		"Module::::Func",
		"Module::Mod::",
		"Module::Mod::Func::Extra",
		"::handler.ps1",
		" handler.ps1",
		"handler.ps1 ",
		" Module::Mod::Func",
	}
	for _, in := range cases {
		d, err := Resolve(in, "/var/task")
		if err == nil {
			t.Fatalf("Resolve(%q) should fail, got %+v", in, d)
		}
		var ihe *InvalidHandlerError
		if !errors.As(err, &ihe) {
			t.Fatalf("Resolve(%q): expected InvalidHandlerError, got %T", in, err)
		}
		if ihe.Handler != in {
			t.Fatalf("Resolve(%q): error should carry the original string, got %q", in, ihe.Handler)
		}
	}
}
