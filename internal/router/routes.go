package router

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"biochat/internal/domain"
)

// Route names understood by the chat session.
const (
	RoutePaulAllen = "paul_allen_questions"
	RouteGreetings = "greetings"
	RouteFarewells = "farewells"
	RouteGratitude = "gratitude"
)

// DefaultAllowed lists the routes the chat session will answer.
var DefaultAllowed = []string{RoutePaulAllen, RouteGreetings, RouteFarewells, RouteGratitude}

//go:embed routes.yaml
var defaultRoutesYAML []byte

// Allowed reports whether name is one of DefaultAllowed.
func Allowed(name string) bool {
	return slices.Contains(DefaultAllowed, name)
}

// DefaultRoutes returns the built-in route table.
func DefaultRoutes() []domain.Route {
	routes, err := ParseRoutes(defaultRoutesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded routes.yaml is invalid: %v", err))
	}
	return routes
}

// LoadRoutes reads a route table from path, or returns the built-in table when
// path is empty.
func LoadRoutes(path string) ([]domain.Route, error) {
	if path == "" {
		return DefaultRoutes(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a YAML route table.
func ParseRoutes(data []byte) ([]domain.Route, error) {
	var routes []domain.Route
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	if len(routes) == 0 {
		return nil, errors.New("route table is empty")
	}
	seen := make(map[string]struct{}, len(routes))
	for i := range routes {
		r := &routes[i]
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return nil, fmt.Errorf("route %d has no name", i)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("duplicate route %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if len(r.Utterances) == 0 {
			return nil, fmt.Errorf("route %q has no utterances", r.Name)
		}
		for j, u := range r.Utterances {
			if strings.TrimSpace(u) == "" {
				return nil, fmt.Errorf("route %q utterance %d is blank", r.Name, j)
			}
		}
	}
	return routes, nil
}
