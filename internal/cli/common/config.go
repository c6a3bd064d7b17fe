package common

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is applied to every key: economy.engine.address -> ECONOMY_ENGINE_ADDRESS.
const EnvPrefix = "ECONOMY"

// LoadWithIncludes reads base config and merges includes in order. Includes
// listed under the base file's "include" key are merged first, relative to it.
func LoadWithIncludes(base string, includes []string) (*viper.Viper, error) {
	v := viper.New()
	if base != "" {
		v.SetConfigFile(base)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		var listed []string
		for _, inc := range v.GetStringSlice("include") {
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(filepath.Dir(base), inc)
			}
			listed = append(listed, inc)
		}
		includes = append(listed, includes...)
	}
	for _, inc := range includes {
		iv := viper.New()
		iv.SetConfigFile(inc)
		if err := iv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("include %s: %w", inc, err)
		}
		if err := v.MergeConfigMap(iv.AllSettings()); err != nil {
			return nil, fmt.Errorf("include %s: %w", inc, err)
		}
	}
	return v, nil
}

// mergeMaps recursively merges b into a.
func mergeMaps(a, b map[string]any) map[string]any {
	for k, vb := range b {
		if ma, ok := a[k].(map[string]any); ok {
			if mb, ok2 := vb.(map[string]any); ok2 {
				a[k] = mergeMaps(ma, mb)
				continue
			}
		}
		a[k] = vb
	}
	return a
}

// ApplySectionAndProfile extracts a section (economy) and overlays profiles.<name> if present.
func ApplySectionAndProfile(v *viper.Viper, section, profile string) (*viper.Viper, error) {
	if section != "" {
		sub := v.Sub(section)
		if sub == nil {
			return nil, fmt.Errorf("section %s not found", section)
		}
		v = sub
	}
	if profile != "" {
		prof := v.Sub("profiles")
		if prof == nil {
			return nil, fmt.Errorf("profiles not found in section")
		}
		p := prof.Sub(profile)
		if p == nil {
			return nil, fmt.Errorf("profile %s not found", profile)
		}
		merged := mergeMaps(v.AllSettings(), p.AllSettings())
		delete(merged, "profiles")
		nv := viper.New()
		if err := nv.MergeConfigMap(merged); err != nil {
			return nil, err
		}
		v = nv
	}
	return v, nil
}

// BindEnv lets ECONOMY_* variables override any key of v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads path with its includes, selects the economy section when present
// and applies profile.
func Load(path, profile string) (*viper.Viper, error) {
	v, err := LoadWithIncludes(path, nil)
	if err != nil {
		return nil, err
	}
	section := ""
	if v.Sub("economy") != nil {
		section = "economy"
	}
	v, err = ApplySectionAndProfile(v, section, profile)
	if err != nil {
		return nil, err
	}
	SetDefaults(v)
	BindEnv(v)
	MergeLogSection(v)
	return v, nil
}
