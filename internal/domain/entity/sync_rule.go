package entity

import "time"

// SyncRule mapea (módulo origen, trigger) a una lista ordenada de módulos destino.
type SyncRule struct {
	ID            string    `yaml:"id"`
	SourceModule  string    `yaml:"source_module"`
	Trigger       string    `yaml:"trigger"`
	TargetModules []string  `yaml:"target_modules"`
	Priority      int       `yaml:"priority"`
	Enabled       bool      `yaml:"enabled"`
	UpdatedAt     time.Time `yaml:"-"`
}

// Matches indica si la regla aplica al evento (sin considerar Enabled).
func (r *SyncRule) Matches(sourceModule, trigger string) bool {
	return r.SourceModule == sourceModule && r.Trigger == trigger
}
