//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target when running mage without arguments.
var Default = Build

// Build builds the server binary.
func Build() error {
	fmt.Println("Building server...")
	return sh.Run("go", "build", "-o", "bin/taskhub", "./cmd/server")
}

// Wire checks that the provider sets in internal/app resolve.
// app.initModules calls the same providers by hand, so nothing is generated.
func Wire() error {
	fmt.Println("Checking wire providers...")
	return sh.RunV("wire", "check", "./internal/app")
}

// Docs formats the swag annotations on the HTTP handlers.
func Docs() error {
	fmt.Println("Formatting swag annotations...")
	return sh.RunV("swag", "fmt", "-d", "./internal/module")
}

// Test runs all tests.
func Test() error {
	fmt.Println("Running tests...")
	return sh.RunV("go", "test", "-race", "./...")
}

// TestCover runs tests with coverage.
func TestCover() error {
	fmt.Println("Running tests with coverage...")
	return sh.Run("go", "test", "-cover", "-coverprofile=coverage.out", "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	fmt.Println("Running linter...")
	return sh.Run("golangci-lint", "run", "./...")
}

// Vet runs go vet.
func Vet() error {
	fmt.Println("Running go vet...")
	return sh.Run("go", "vet", "./...")
}

// Tidy runs go mod tidy.
func Tidy() error {
	fmt.Println("Running go mod tidy...")
	return sh.Run("go", "mod", "tidy")
}

// Clean removes build artifacts.
func Clean() error {
	fmt.Println("Cleaning...")
	if err := os.RemoveAll("bin"); err != nil {
		return err
	}
	_ = os.Remove("coverage.out")
	return nil
}

// Migrate applies the database schema using the local configuration.
func Migrate() error {
	mg.Deps(Build)
	return sh.RunV("./bin/taskhub", "migrate")
}

// Run builds and starts the server for development.
func Run() error {
	mg.Deps(Build)
	fmt.Println("Starting server...")
	return sh.RunV("./bin/taskhub", "serve")
}

// All runs tidy, vet, lint, test, and build.
func All() error {
	mg.SerialDeps(Tidy, Vet, Lint, Test, Build)
	return nil
}

// CI runs the CI pipeline (tidy, vet, test with coverage).
func CI() error {
	mg.SerialDeps(Tidy, Vet, TestCover)
	return nil
}
