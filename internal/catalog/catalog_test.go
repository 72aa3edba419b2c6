package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/spechawk/internal/catalog"
	"github.com/jonesrussell/spechawk/internal/domain"
)

func writePack(t *testing.T, dir, category string, files map[string]string) {
	t.Helper()

	base := filepath.Join(dir, category)
	require.NoError(t, os.MkdirAll(base, 0o750))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(base, name), []byte(body), 0o600))
	}
}

const rulesJSON = `{
	"category": "gaming_mice",
	"fields": {
		"weight": {"key": "weight", "type": "number", "unit": "g", "variance_policy": "range", "required": true, "critical": true},
		"max_dpi": {"key": "max_dpi", "type": "integer", "variance_policy": "authoritative", "required": true}
	}
}`

const productsJSON = `[
	{
		"id": "mouse-viper-v3-pro",
		"brand": "Razer",
		"model": "Viper V3 Pro",
		"seed_urls": ["https://www.razer.com/gaming-mice/razer-viper-v3-pro"],
		"identity_lock": {"sku": "RZ01-05120100", "ambiguity": "easy"}
	},
	{
		"id": "mouse-gpx-2",
		"brand": "Logitech",
		"model": "G Pro X Superlight 2"
	}
]`

const directoryJSON = `{
	"razer.com": {"role": "manufacturer", "tier": 1},
	"rtings.com": {"role": "lab_review", "tier": 2, "trusted": true}
}`

func TestLoadFullPack(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "gaming_mice", map[string]string{
		"rules.json":     rulesJSON,
		"products.json":  productsJSON,
		"directory.json": directoryJSON,
	})

	pack, err := catalog.Load(dir, "gaming_mice")
	require.NoError(t, err)

	assert.Equal(t, "gaming_mice", pack.Rules.Category)
	assert.Len(t, pack.Rules.Fields, 2)
	assert.Len(t, pack.Products, 2)

	entry := pack.Directory.Lookup("rtings.com")
	assert.Equal(t, domain.RoleLabReview, entry.Role)
	assert.True(t, entry.Trusted)

	unknown := pack.Directory.Lookup("randomblog.example")
	assert.Equal(t, domain.TierUnverified, unknown.Tier)
}

func TestLoadFillsLockDefaults(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "gaming_mice", map[string]string{
		"rules.json":    rulesJSON,
		"products.json": productsJSON,
	})

	pack, err := catalog.Load(dir, "gaming_mice")
	require.NoError(t, err)

	viper, err := pack.Product("mouse-viper-v3-pro")
	require.NoError(t, err)
	assert.Equal(t, "mouse-viper-v3-pro", viper.Lock.ProductID)
	assert.Equal(t, "Razer", viper.Lock.Brand)
	assert.Equal(t, "Viper V3 Pro", viper.Lock.Model)
	assert.Equal(t, "RZ01-05120100", viper.Lock.SKU)
	assert.Equal(t, domain.AmbiguityEasy, viper.Lock.Ambiguity)

	gpx, err := pack.Product("mouse-gpx-2")
	require.NoError(t, err)
	assert.Equal(t, "gaming_mice", gpx.Category)
	assert.Equal(t, domain.AmbiguityMedium, gpx.Lock.Ambiguity)
}

func TestLoadMissingRules(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "gaming_mice", map[string]string{
		"products.json": productsJSON,
	})

	_, err := catalog.Load(dir, "gaming_mice")
	assert.Error(t, err)
}

func TestProductNotFound(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "gaming_mice", map[string]string{
		"rules.json":    rulesJSON,
		"products.json": productsJSON,
	})

	pack, err := catalog.Load(dir, "gaming_mice")
	require.NoError(t, err)

	_, err = pack.Product("mouse-nope")
	assert.True(t, errors.Is(err, catalog.ErrProductNotFound))
}

func TestLoadRejectsProductWithoutID(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "gaming_mice", map[string]string{
		"rules.json":    rulesJSON,
		"products.json": `[{"brand": "Razer", "model": "Basilisk"}]`,
	})

	_, err := catalog.Load(dir, "gaming_mice")
	assert.Error(t, err)
}
