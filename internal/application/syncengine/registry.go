package syncengine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

// Registry reglas de sincronización vigentes. Lectura frecuente desde el motor, escritura rara.
type Registry struct {
	mu      sync.RWMutex
	rules   map[string]*entity.SyncRule
	modules map[string]struct{}
	repo    repository.SyncRuleRepository
	log     zerolog.Logger
}

// NewRegistry modules son los módulos destino con adaptador registrado; repo puede ser nil.
func NewRegistry(modules []string, repo repository.SyncRuleRepository, log zerolog.Logger) *Registry {
	known := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		known[m] = struct{}{}
	}
	return &Registry{
		rules:   make(map[string]*entity.SyncRule),
		modules: known,
		repo:    repo,
		log:     log,
	}
}

// DefaultRules reglas con las que arranca el servicio si no hay archivo ni reglas persistidas.
func DefaultRules() []*entity.SyncRule {
	rule := func(id, source, trigger string, priority int, targets ...string) *entity.SyncRule {
		return &entity.SyncRule{
			ID:            id,
			SourceModule:  source,
			Trigger:       trigger,
			TargetModules: targets,
			Priority:      priority,
			Enabled:       true,
		}
	}
	return []*entity.SyncRule{
		rule("sales-sale-created", "sales", TriggerSaleCreated, 10, ModuleInventory, ModuleAccounting),
		rule("sales-sale-cancelled", "sales", TriggerSaleCancelled, 10, ModuleInventory),
		rule("returns-return-created", "returns", TriggerReturnCreated, 8, ModuleInventory),
		rule("purchases-purchase-received", "purchases", TriggerPurchaseReceived, 5, ModuleInventory),
		rule("inventory-stock-counted", "inventory", TriggerStockCounted, 5, ModuleInventory),
		rule("billing-invoice-created", "billing", TriggerInvoiceCreated, 3, ModuleAccounting),
		rule("billing-invoice-updated", "billing", TriggerInvoiceUpdated, 3, ModuleAccounting),
	}
}

// Validate revisa campos obligatorios y que cada destino tenga adaptador.
func (r *Registry) Validate(rule *entity.SyncRule) error {
	if strings.TrimSpace(rule.ID) == "" {
		return domain.NewValidationError("id", "es obligatorio")
	}
	if strings.TrimSpace(rule.SourceModule) == "" {
		return domain.NewValidationError("sourceModule", "es obligatorio (regla %s)", rule.ID)
	}
	if strings.TrimSpace(rule.Trigger) == "" {
		return domain.NewValidationError("trigger", "es obligatorio (regla %s)", rule.ID)
	}
	if len(rule.TargetModules) == 0 {
		return domain.NewValidationError("targetModules", "la regla %s no tiene destinos", rule.ID)
	}
	if rule.Priority < 0 {
		return domain.NewValidationError("priority", "no puede ser negativa (regla %s)", rule.ID)
	}
	for _, m := range rule.TargetModules {
		if _, ok := r.modules[m]; !ok {
			return fmt.Errorf("regla %s: %w: %s", rule.ID, domain.ErrUnknownTargetModule, m)
		}
	}
	return nil
}

// Load reemplaza las reglas en memoria. Si alguna es inválida no cambia nada.
func (r *Registry) Load(rules []*entity.SyncRule) error {
	next := make(map[string]*entity.SyncRule, len(rules))
	for _, rule := range rules {
		if err := r.Validate(rule); err != nil {
			return err
		}
		next[rule.ID] = copyRule(rule)
	}
	r.mu.Lock()
	r.rules = next
	r.mu.Unlock()
	return nil
}

// Merge agrega o reemplaza reglas por ID sin tocar las demás.
func (r *Registry) Merge(rules []*entity.SyncRule) error {
	for _, rule := range rules {
		if err := r.Validate(rule); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range rules {
		r.rules[rule.ID] = copyRule(rule)
	}
	return nil
}

// LoadFromRepository superpone las reglas persistidas sobre las cargadas.
func (r *Registry) LoadFromRepository(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	stored, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listar reglas: %w", err)
	}
	if err := r.Merge(stored); err != nil {
		return err
	}
	r.log.Info().Int("rules", len(stored)).Msg("reglas de sincronización cargadas desde la base")
	return nil
}

// Upsert valida, persiste (si hay repositorio) y publica la regla.
func (r *Registry) Upsert(ctx context.Context, rule *entity.SyncRule) error {
	if err := r.Validate(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now()
	if r.repo != nil {
		if err := r.repo.Upsert(ctx, rule); err != nil {
			return fmt.Errorf("guardar regla %s: %w", rule.ID, err)
		}
	}
	r.mu.Lock()
	r.rules[rule.ID] = copyRule(rule)
	r.mu.Unlock()
	return nil
}

// Match reglas habilitadas para (origen, trigger), prioridad descendente.
func (r *Registry) Match(sourceModule, trigger string) []*entity.SyncRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.SyncRule
	for _, rule := range r.rules {
		if rule.Enabled && rule.Matches(sourceModule, trigger) {
			out = append(out, copyRule(rule))
		}
	}
	sortRules(out)
	return out
}

// Rules todas las reglas, prioridad descendente.
func (r *Registry) Rules() []*entity.SyncRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.SyncRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, copyRule(rule))
	}
	sortRules(out)
	return out
}

// ActiveCount reglas habilitadas.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rule := range r.rules {
		if rule.Enabled {
			n++
		}
	}
	return n
}

// TargetsOf destinos de las reglas en orden de prioridad, sin repetir.
func TargetsOf(rules []*entity.SyncRule) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rule := range rules {
		for _, m := range rule.TargetModules {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

func sortRules(rules []*entity.SyncRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

func copyRule(rule *entity.SyncRule) *entity.SyncRule {
	c := *rule
	c.TargetModules = append([]string(nil), rule.TargetModules...)
	return &c
}

// ruleFile formato YAML de SYNC_RULES_FILE. enabled ausente equivale a true.
type ruleFile struct {
	Rules []struct {
		ID            string   `yaml:"id"`
		SourceModule  string   `yaml:"source_module"`
		Trigger       string   `yaml:"trigger"`
		TargetModules []string `yaml:"target_modules"`
		Priority      int      `yaml:"priority"`
		Enabled       *bool    `yaml:"enabled"`
	} `yaml:"rules"`
}

// ParseRules decodifica reglas en YAML.
func ParseRules(data []byte) ([]*entity.SyncRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("yaml de reglas: %w", err)
	}
	out := make([]*entity.SyncRule, 0, len(f.Rules))
	for _, fr := range f.Rules {
		enabled := true
		if fr.Enabled != nil {
			enabled = *fr.Enabled
		}
		out = append(out, &entity.SyncRule{
			ID:            fr.ID,
			SourceModule:  fr.SourceModule,
			Trigger:       fr.Trigger,
			TargetModules: fr.TargetModules,
			Priority:      fr.Priority,
			Enabled:       enabled,
		})
	}
	return out, nil
}

// LoadRulesFile lee y decodifica un archivo de reglas.
func LoadRulesFile(path string) ([]*entity.SyncRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("leer %s: %w", path, err)
	}
	return ParseRules(data)
}
