// Package handler classifies the configured handler string into one of the
// three invocation shapes the runtime supports:
//
//	Module::<moduleName>::<functionName>   function exported by a module
//	<script>.ps1::<functionName>           function defined in a script file
//	<script>.ps1                           whole script body per invocation
//
// Classification happens once per execution environment; the resulting
// Descriptor is immutable and reused for every invocation.
package handler

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind discriminates the three handler shapes.
type Kind int

const (
	// KindScript runs the whole script file as top-level code per invocation.
	KindScript Kind = iota
	// KindScriptFunction dot-sources the script once, then calls the named
	// function per invocation.
	KindScriptFunction
	// KindModule imports the module once, then calls the named function
	// per invocation.
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindScriptFunction:
		return "script-function"
	case KindModule:
		return "module"
	default:
		return "unknown"
	}
}

// Descriptor is the parsed handler specification. Exactly the fields for
// the given Kind are populated.
type Descriptor struct {
	Kind Kind

	// ScriptPath is the absolute path of the handler script, task root
	// joined with the configured filename. Set for KindScript and
	// KindScriptFunction.
	ScriptPath string

	// ModuleName is set for KindModule.
	ModuleName string

	// FunctionName is set for KindScriptFunction and KindModule.
	FunctionName string
}

// InvalidHandlerError reports a handler string that matches none of the
// supported shapes. The original string is preserved verbatim.
type InvalidHandlerError struct {
	Handler string
}

func (e *InvalidHandlerError) Error() string {
	return fmt.Sprintf("invalid handler specification %q: expected <script>.ps1, <script>.ps1::<function> or Module::<module>::<function>", e.Handler)
}

const (
	separator       = "::"
	scriptExtension = ".ps1"
	moduleKeyword   = "Module"
)

// Resolve parses the handler string against the task root directory.
// Segments are taken literally: no whitespace trimming, no case folding
// except the Module keyword. Script paths may contain subdirectories.
func Resolve(handlerString, taskRoot string) (*Descriptor, error) {
	// Surrounding whitespace is a configuration mistake, not something to
	// silently repair.
	if handlerString == "" || strings.TrimSpace(handlerString) != handlerString {
		return nil, &InvalidHandlerError{Handler: handlerString}
	}

	segments := strings.Split(handlerString, separator)

	switch len(segments) {
	case 1:
		name := segments[0]
		if name == "" || !strings.HasSuffix(name, scriptExtension) {
			break
		}
		return &Descriptor{
			Kind:       KindScript,
			ScriptPath: filepath.Join(taskRoot, name),
		}, nil

	case 2:
		name, fn := segments[0], segments[1]
		if !strings.HasSuffix(name, scriptExtension) || fn == "" {
			break
		}
		return &Descriptor{
			Kind:         KindScriptFunction,
			ScriptPath:   filepath.Join(taskRoot, name),
			FunctionName: fn,
		}, nil

	case 3:
		if !strings.EqualFold(segments[0], moduleKeyword) {
			break
		}
		mod, fn := segments[1], segments[2]
		if mod == "" || fn == "" {
			break
		}
		return &Descriptor{
			Kind:         KindModule,
			ModuleName:   mod,
			FunctionName: fn,
		}, nil
	}

	return nil, &InvalidHandlerError{Handler: handlerString}
}
