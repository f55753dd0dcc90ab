//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified
var Default = Build

// Build compiles the project binaries into the bin/ directory.
func Build() error {
	fmt.Println("Building...")
	return sh.Run("go", "build", "-o", "./bin", "./...")
}

// Install copies the rwmigrate binary to /usr/local/bin.
func Install() error {
	mg.Deps(Build)
	fmt.Println("Installing...")
	return sh.Run("cp", "bin/rwmigrate", "/usr/local/bin/rwmigrate")
}

// Test runs all tests in the project with verbose output.
func Test() error {
	fmt.Println("Running Tests...")
	return sh.Run("go", "test", "-v", "./...")
}

// TestPipeline runs the end-to-end migration tests with the race detector.
func TestPipeline() error {
	fmt.Println("Running Pipeline Tests...")
	return sh.Run("go", "test", "-race", "-timeout", "60s", "./pipeline/...", "./emit/...", "./cmd/...")
}

// Sample migrates testdata/sample.txt into test_output/ as SQLite and writes
// the run report beside it.
func Sample() error {
	mg.Deps(Build)
	fmt.Println("Migrating sample catalog...")
	if err := os.MkdirAll("test_output", 0755); err != nil {
		return err
	}
	return sh.RunV("bin/rwmigrate",
		"-db", "test_output/sample.db",
		"-report", "test_output/sample.xlsx",
		"testdata/sample.txt")
}

// Clean removes the bin directory and test outputs.
func Clean() error {
	fmt.Println("Cleaning...")
	if err := os.RemoveAll("bin"); err != nil {
		return err
	}
	if err := os.RemoveAll("test_output"); err != nil {
		return err
	}
	return nil
}

// Tidy runs go mod tidy.
func Tidy() error {
	fmt.Println("Running go mod tidy...")
	return sh.Run("go", "mod", "tidy")
}

// Check runs formatting and linting checks (fmt, vet).
func Check() error {
	mg.Deps(Fmt, Vet)
	return nil
}

// Fmt runs go fmt ./...
func Fmt() error {
	fmt.Println("Running go fmt...")
	return sh.Run("go", "fmt", "./...")
}

// Vet runs go vet ./...
func Vet() error {
	fmt.Println("Running go vet...")
	return sh.Run("go", "vet", "./...")
}
