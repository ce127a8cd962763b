package store

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quadi/qsa-engrave/models"
)

// maxPatternLen bounds stored legacy patterns.
const maxPatternLen = 128

// SkuStore owns the sku_mappings relation and builds resolvers over it.
type SkuStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewSkuStore(db *sql.DB, log *logrus.Logger) *SkuStore {
	return &SkuStore{db: db, log: log.WithField("store", "skumap")}
}

func validateMapping(m models.SkuMapping) error {
	if m.LegacyPattern == "" {
		return models.NewFault(models.CodeInvalidParams, "pattern must not be empty")
	}
	if len(m.LegacyPattern) > maxPatternLen {
		return models.Faultf(models.CodePatternTooLong, "pattern exceeds %d characters", maxPatternLen)
	}
	switch m.MatchType {
	case models.MatchExact, models.MatchPrefix, models.MatchSuffix:
	case models.MatchRegex:
		if _, err := regexp.Compile("(?i)" + m.LegacyPattern); err != nil {
			return models.WrapFault(models.CodeInvalidRegex, "pattern does not compile", err)
		}
	default:
		return models.Faultf(models.CodeInvalidParams, "unknown match type %q", m.MatchType)
	}
	if len(m.CanonicalCode) != 4 || !models.ValidDesign(m.CanonicalCode) {
		return models.NewFault(models.CodeInvalidParams, "canonical code must be 4 uppercase alphanumerics")
	}
	if !models.ValidRevision(m.Revision) {
		return models.NewFault(models.CodeInvalidParams, "revision must be a single lowercase letter")
	}
	if m.Priority < 0 || m.Priority > 65535 {
		return models.NewFault(models.CodeInvalidParams, "priority out of range 0-65535")
	}
	return nil
}

// Create inserts a mapping. (pattern, match_type) pairs are unique.
func (s *SkuStore) Create(ctx context.Context, m models.SkuMapping) (int64, error) {
	m.CanonicalCode = strings.ToUpper(m.CanonicalCode)
	if err := validateMapping(m); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sku_mappings (legacy_pattern, match_type, canonical_code, revision, priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.LegacyPattern, m.MatchType, m.CanonicalCode, m.Revision, m.Priority, boolInt(m.IsActive))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, models.Faultf(models.CodeDuplicatePattern,
				"a %s mapping for %q already exists", m.MatchType, m.LegacyPattern)
		}
		return 0, models.WrapFault(models.CodeInsertFailed, "creating SKU mapping", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// Update rewrites an existing mapping in place.
func (s *SkuStore) Update(ctx context.Context, m models.SkuMapping) error {
	m.CanonicalCode = strings.ToUpper(m.CanonicalCode)
	if err := validateMapping(m); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sku_mappings SET legacy_pattern = ?, match_type = ?, canonical_code = ?,
			revision = ?, priority = ?, is_active = ?
		WHERE id = ?`,
		m.LegacyPattern, m.MatchType, m.CanonicalCode, m.Revision, m.Priority, boolInt(m.IsActive), m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Faultf(models.CodeDuplicatePattern,
				"a %s mapping for %q already exists", m.MatchType, m.LegacyPattern)
		}
		return models.WrapFault(models.CodeUpdateFailed, "updating SKU mapping", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Faultf(models.CodeNotFound, "mapping %d not found", m.ID)
	}
	return nil
}

// Delete removes a mapping.
func (s *SkuStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sku_mappings WHERE id = ?`, id)
	if err != nil {
		return models.WrapFault(models.CodeDeleteFailed, "deleting SKU mapping", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Faultf(models.CodeNotFound, "mapping %d not found", id)
	}
	return nil
}

// List returns every mapping, active or not, in priority order.
func (s *SkuStore) List(ctx context.Context) ([]models.SkuMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, legacy_pattern, match_type, canonical_code, revision, priority, is_active
		FROM sku_mappings ORDER BY priority, id`)
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "listing SKU mappings", err)
	}
	defer rows.Close()
	var out []models.SkuMapping
	for rows.Next() {
		var m models.SkuMapping
		var active int
		if err := rows.Scan(&m.ID, &m.LegacyPattern, &m.MatchType, &m.CanonicalCode,
			&m.Revision, &m.Priority, &active); err != nil {
			return nil, models.WrapFault(models.CodeTransactionFailed, "scanning SKU mapping", err)
		}
		m.IsActive = active != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// Resolver builds a request-scoped resolver over the active mappings. The
// mapping table is read once; resolutions are memoized for the resolver's
// lifetime.
func (s *SkuStore) Resolver(ctx context.Context) (*Resolver, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0:0]
	for _, m := range all {
		if m.IsActive {
			active = append(active, m)
		}
	}
	return NewResolver(active, s.log), nil
}

// Resolution is the canonical identity resolved for a SKU.
type Resolution struct {
	CanonicalCode string `json:"canonicalCode"`
	Revision      string `json:"revision"`
	IsLegacy      bool   `json:"isLegacy"`
}

// Resolver maps arbitrary module SKUs to canonical (design, revision).
// Not safe for concurrent use; build one per request.
type Resolver struct {
	exact  []models.SkuMapping
	prefix []models.SkuMapping
	suffix []models.SkuMapping
	regex  []models.SkuMapping
	cache  map[string]*Resolution
	log    *logrus.Entry
}

// NewResolver indexes mappings by match type. Prefix and suffix candidates
// are ordered longest-pattern first, ties broken by lower priority; exact and
// regex candidates by priority alone.
func NewResolver(mappings []models.SkuMapping, log *logrus.Entry) *Resolver {
	r := &Resolver{cache: map[string]*Resolution{}, log: log}
	for _, m := range mappings {
		switch m.MatchType {
		case models.MatchExact:
			r.exact = append(r.exact, m)
		case models.MatchPrefix:
			r.prefix = append(r.prefix, m)
		case models.MatchSuffix:
			r.suffix = append(r.suffix, m)
		case models.MatchRegex:
			r.regex = append(r.regex, m)
		}
	}
	byPriority := func(list []models.SkuMapping) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	}
	byLengthThenPriority := func(list []models.SkuMapping) {
		sort.SliceStable(list, func(i, j int) bool {
			li, lj := len(list[i].LegacyPattern), len(list[j].LegacyPattern)
			if li != lj {
				return li > lj
			}
			return list[i].Priority < list[j].Priority
		})
	}
	byPriority(r.exact)
	byLengthThenPriority(r.prefix)
	byLengthThenPriority(r.suffix)
	byPriority(r.regex)
	return r
}

// Resolve returns the canonical identity for sku, or nil when no rule
// matches. Matching is case-insensitive to mirror the host datastore's
// collation. Native-format SKUs resolve without a mapping lookup.
func (r *Resolver) Resolve(sku string) *Resolution {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil
	}
	if hit, ok := r.cache[sku]; ok {
		return hit
	}

	res := r.resolve(sku)
	r.cache[sku] = res
	return res
}

func (r *Resolver) resolve(sku string) *Resolution {
	if design, rev, ok := models.ParseNativeSKU(sku); ok {
		return &Resolution{CanonicalCode: design, Revision: rev}
	}

	lower := strings.ToLower(sku)
	for _, m := range r.exact {
		if strings.ToLower(m.LegacyPattern) == lower {
			return &Resolution{CanonicalCode: m.CanonicalCode, Revision: m.Revision, IsLegacy: true}
		}
	}
	for _, m := range r.prefix {
		if strings.HasPrefix(lower, strings.ToLower(m.LegacyPattern)) {
			return &Resolution{CanonicalCode: m.CanonicalCode, Revision: m.Revision, IsLegacy: true}
		}
	}
	for _, m := range r.suffix {
		if strings.HasSuffix(lower, strings.ToLower(m.LegacyPattern)) {
			return &Resolution{CanonicalCode: m.CanonicalCode, Revision: m.Revision, IsLegacy: true}
		}
	}
	for _, m := range r.regex {
		re, err := regexp.Compile("(?i)" + m.LegacyPattern)
		if err != nil {
			// Bad stored pattern: skip without aborting the pass.
			if r.log != nil {
				r.log.WithFields(logrus.Fields{"pattern": m.LegacyPattern, "id": m.ID}).
					Warn("skipping invalid regex mapping")
			}
			continue
		}
		if re.MatchString(sku) {
			return &Resolution{CanonicalCode: m.CanonicalCode, Revision: m.Revision, IsLegacy: true}
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
