// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package params

import (
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/enas/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// All the parameters "param1", "param2", etc. must be already set with default values
// in `p`. The default values are also used to set the type to which the
// string values will be parsed to.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// A setting "file:<path>" reads settings from the file: one or more settings per line, lines
// starting with "#" are comments. Files ending in ".yaml" or ".yml" are read with LoadYAML instead.
//
// It returns the list of parameters set.
func ParseSettings(p *Params, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(p, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(p *Params, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		filePath := fsutil.MustExpandHome(strings.TrimPrefix(setting, "file:"))
		if strings.HasSuffix(filePath, ".yaml") || strings.HasSuffix(filePath, ".yml") {
			var fromYAML []string
			fromYAML, err = LoadYAML(p, filePath)
			newParamsSet = append(newParamsSet, fromYAML...)
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				newParamsSet, err = parseSetting(p, lineSetting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	parts := strings.Split(setting, "=")
	if len(parts) != 2 {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	key, valueStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	value, err := parseValue(p, key, valueStr)
	if err != nil {
		return
	}
	p.Set(key, value)
	newParamsSet = append(newParamsSet, key)
	return
}

// parseValue parses valueStr to the type of the current value of the parameter key.
func parseValue(p *Params, key, valueStr string) (value any, err error) {
	value, found := p.Get(key)
	if !found {
		return nil, errors.Errorf("can't set parameter %q because it is not known", key)
	}
	noUnderscores := strings.ReplaceAll(valueStr, "_", "")
	switch v := value.(type) {
	case int:
		err = json.Unmarshal([]byte(noUnderscores), &v)
		value = v
	case int64:
		err = json.Unmarshal([]byte(noUnderscores), &v)
		value = v
	case uint64:
		err = json.Unmarshal([]byte(noUnderscores), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		var list []int
		for _, str := range strings.Split(valueStr, ",") {
			var asInt int
			if err = json.Unmarshal([]byte(strings.ReplaceAll(str, "_", "")), &asInt); err != nil {
				break
			}
			list = append(list, asInt)
		}
		value = list
	case []float64:
		var list []float64
		for _, str := range strings.Split(valueStr, ",") {
			var asNum float64
			if err = json.Unmarshal([]byte(str), &asNum); err != nil {
				break
			}
			list = append(list, asNum)
		}
		value = list
	default:
		err = fmt.Errorf("don't know how to parse type %T for setting parameter %q", value, key)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)", valueStr, key, value)
	}
	return
}

// LoadYAML reads parameters from a YAML mapping of parameter names to values.
// As with ParseSettings, all parameters must already be defined in `p`, and values must be
// compatible with the type of their defaults (ints are accepted for float parameters).
//
// It returns the list of parameters set.
func LoadYAML(p *Params, filePath string) (paramsSet []string, err error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read parameters from YAML file %q", filePath)
	}
	var doc map[string]any
	if err = yaml.Unmarshal(contents, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to parse YAML file %q", filePath)
	}
	for _, key := range sortedKeys(doc) {
		current, found := p.Get(key)
		if !found {
			return nil, errors.Errorf("YAML file %q: parameter %q is not known", filePath, key)
		}
		value, err := convertYAMLValue(current, doc[key])
		if err != nil {
			return nil, errors.WithMessagef(err, "YAML file %q: parameter %q", filePath, key)
		}
		p.Set(key, value)
		paramsSet = append(paramsSet, key)
	}
	return paramsSet, nil
}

// convertYAMLValue converts a value decoded from YAML to the type of current.
func convertYAMLValue(current, value any) (any, error) {
	switch current.(type) {
	case float64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
	case int64:
		if v, ok := value.(int); ok {
			return int64(v), nil
		}
	case uint64:
		if v, ok := value.(int); ok && v >= 0 {
			return uint64(v), nil
		}
	case []string, []int, []float64:
		list, ok := value.([]any)
		if !ok {
			break
		}
		return convertYAMLList(current, list)
	default:
		if fmt.Sprintf("%T", current) == fmt.Sprintf("%T", value) {
			return value, nil
		}
	}
	return nil, errors.Errorf("value %v (%T) is not compatible with type %T", value, value, current)
}

func convertYAMLList(current any, list []any) (any, error) {
	switch current.(type) {
	case []string:
		out := make([]string, len(list))
		for ii, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil, errors.Errorf("list element #%d (%v) is not a string", ii, e)
			}
			out[ii] = s
		}
		return out, nil
	case []int:
		out := make([]int, len(list))
		for ii, e := range list {
			i, ok := e.(int)
			if !ok {
				return nil, errors.Errorf("list element #%d (%v) is not an int", ii, e)
			}
			out[ii] = i
		}
		return out, nil
	default:
		out := make([]float64, len(list))
		for ii, e := range list {
			f, err := convertYAMLValue(0.0, e)
			if err != nil {
				return nil, errors.WithMessagef(err, "list element #%d", ii)
			}
			out[ii] = f.(float64)
		}
		return out, nil
	}
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") and with a description of the currently defined parameters.
//
// The flag should be created before the call to `flag.Parse()`.
//
// Example usage:
//
//	func main() {
//		p := tuner.DefaultParams()
//		settings := params.CreateSettingsFlag(p, "")
//		flag.Parse()
//		paramsSet := must.M1(params.ParseSettings(p, *settings))
//		fmt.Println(p.SprintModified(paramsSet))
//		...
//	}
func CreateSettingsFlag(p *Params, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set hyperparameters of the experiment. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Files ending in ".yaml" are read as a YAML mapping. ` +
			`Current available parameters that can be set:`,
	}
	p.Enumerate(func(key string, value any) {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, value))
	})
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}
