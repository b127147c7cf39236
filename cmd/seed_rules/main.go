// seed_rules genera un script SQL para poblar sync_rules a partir de un archivo YAML de reglas.
// Acepta exportaciones en ISO-8859-1 (las del ERP anterior) además de UTF-8.
//
// Uso: go run ./cmd/seed_rules [ruta/reglas.yaml] [salida.sql]
// Por defecto lee sync_rules.yaml del directorio actual y escribe
// internal/infrastructure/postgres/migrations/0004_seed_rules.sql.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

func main() {
	rulesPath := "sync_rules.yaml"
	if len(os.Args) > 1 {
		rulesPath = os.Args[1]
	}
	outPath := filepath.Join(findModuleRoot(), "internal", "infrastructure", "postgres", "migrations", "0004_seed_rules.sql")
	if len(os.Args) > 2 {
		outPath = os.Args[2]
	}

	raw, err := os.ReadFile(rulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Leer reglas: %v\n", err)
		os.Exit(1)
	}
	data, err := toUTF8(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Convertir a UTF-8: %v\n", err)
		os.Exit(1)
	}
	rules, err := syncengine.ParseRules(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decodificar YAML: %v\n", err)
		os.Exit(1)
	}

	// Mismas validaciones que aplica el servicio al cargar reglas.
	registry := syncengine.NewRegistry([]string{syncengine.ModuleInventory, syncengine.ModuleAccounting}, nil, zerolog.Nop())
	if err := registry.Load(rules); err != nil {
		fmt.Fprintf(os.Stderr, "Reglas inválidas: %v\n", err)
		os.Exit(1)
	}

	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crear archivo: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()
	if err := writeSQL(out, registry.Rules()); err != nil {
		fmt.Fprintf(os.Stderr, "Escribir SQL: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generado %s: %d reglas\n", outPath, len(rules))
}

// toUTF8 deja pasar UTF-8 válido; cualquier otra cosa se interpreta como ISO-8859-1.
func toUTF8(raw []byte) ([]byte, error) {
	if utf8.Valid(raw) {
		return raw, nil
	}
	return io.ReadAll(transform.NewReader(bytes.NewReader(raw), charmap.ISO8859_1.NewDecoder()))
}

func writeSQL(w io.Writer, rules []*entity.SyncRule) error {
	var b strings.Builder
	b.WriteString("-- Reglas de sincronización\n")
	b.WriteString("-- Generado por cmd/seed_rules\n\n")
	for _, r := range rules {
		targets := make([]string, 0, len(r.TargetModules))
		for _, t := range r.TargetModules {
			targets = append(targets, "'"+escapeSQL(t)+"'")
		}
		fmt.Fprintf(&b, "INSERT INTO sync_rules (id, source_module, trigger_name, target_modules, priority, enabled)\n")
		fmt.Fprintf(&b, "VALUES ('%s', '%s', '%s', ARRAY[%s]::TEXT[], %d, %t)\n",
			escapeSQL(r.ID), escapeSQL(r.SourceModule), escapeSQL(r.Trigger), strings.Join(targets, ", "), r.Priority, r.Enabled)
		b.WriteString("ON CONFLICT (id) DO UPDATE SET source_module = EXCLUDED.source_module, trigger_name = EXCLUDED.trigger_name,\n")
		b.WriteString("    target_modules = EXCLUDED.target_modules, priority = EXCLUDED.priority, enabled = EXCLUDED.enabled, updated_at = now();\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func findModuleRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
