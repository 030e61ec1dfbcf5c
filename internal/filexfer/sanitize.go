// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxPathComponentLength é o comprimento máximo permitido para um nome
// de arquivo recebido.
const maxPathComponentLength = 255

// validatePathComponent valida que name é seguro para usar como um único
// componente de caminho no filesystem, rejeitando path traversal.
func validatePathComponent(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if len(name) > maxPathComponentLength {
		return fmt.Errorf("%s exceeds max length %d", fieldName, maxPathComponentLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%s contains path separator", fieldName)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%s contains null byte", fieldName)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, "..") {
		return fmt.Errorf("%s contains path traversal", fieldName)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%s starts with dot", fieldName)
	}
	return nil
}

// validatePathInBaseDir verifica que resolvedPath permanece dentro de
// baseDir, defesa em profundidade contra path traversal além de
// validatePathComponent.
func validatePathInBaseDir(baseDir, resolvedPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolving base dir: %w", err)
	}
	absResolved, err := filepath.Abs(resolvedPath)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absResolved)
	if err != nil {
		return fmt.Errorf("path escapes base directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes base directory %q", resolvedPath, baseDir)
	}
	return nil
}

// CollisionSafePath retorna path inalterado se nada existe lá ainda;
// caso contrário insere um sufixo de timestamp YYYY-MM-DD_HH-MM-SS antes
// da extensão.
func CollisionSafePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	stamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s%s", base, stamp, ext)
}
