package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	dbsql "github.com/sllt/dbhelper/pkg/dbhelper/datasource/sql"
)

var errParamName = errors.New("parameter name is empty")

type fileParam struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// parseParams builds the call's input parameters. Parameters from the YAML file come first, followed by the
// name=value pairs given on the command line.
func parseParams(pairs []string, file string) ([]dbsql.Param, error) {
	var params []dbsql.Param

	if file != "" {
		fromFile, err := readParamsFile(file)
		if err != nil {
			return nil, err
		}

		params = append(params, fromFile...)
	}

	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", pair)
		}

		if name = strings.TrimSpace(name); name == "" {
			return nil, fmt.Errorf("invalid parameter %q: %w", pair, errParamName)
		}

		params = append(params, dbsql.In(name, value))
	}

	return params, nil
}

func readParamsFile(path string) ([]dbsql.Param, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []fileParam

	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	params := make([]dbsql.Param, 0, len(entries))

	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("%s entry %d: %w", path, i, errParamName)
		}

		params = append(params, dbsql.In(e.Name, e.Value))
	}

	return params, nil
}
