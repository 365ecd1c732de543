// Package onnx runs ONNX models in-process through ONNX Runtime and keeps a bounded
// pool of sessions per model.
package onnx

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/Tutortoise/vision-service/inference"
	ort "github.com/yalue/onnxruntime_go"
)

// LibraryEnv names the environment variable consulted when no library path is given.
const LibraryEnv = "ONNXRUNTIME_LIB"

var runtimeMu sync.Mutex

// DefaultLibraryName returns the ONNX Runtime shared library name for the host OS.
func DefaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// ResolveLibraryPath picks the explicit path, then $ONNXRUNTIME_LIB, then the
// per-OS default name left to the dynamic loader.
func ResolveLibraryPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(LibraryEnv); env != "" {
		return env
	}
	return DefaultLibraryName()
}

// InitRuntime loads the shared library and initialises the ONNX Runtime environment.
// Calling it again after a successful call is a no-op.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	path := ResolveLibraryPath(libPath)
	if strings.ContainsAny(path, `/\`) {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("onnxruntime library not found at %s: %w", path, err)
		}
	}

	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime environment: %w", err)
	}

	slog.Info("onnxruntime initialised", "library", path, "cpu", inference.CPUFeatures())
	return nil
}

func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
