// Package scope resolves knowledge isolation levels and maps them to
// storage collection names.
//
// Three tiers are supported: global knowledge shared by everyone, project
// scope shared across a project's datasets, and local scope isolated to a
// single dataset.
package scope

import (
	"errors"
	"regexp"
	"strings"
)

// Level is a knowledge isolation tier.
type Level string

const (
	LevelGlobal  Level = "global"
	LevelProject Level = "project"
	LevelLocal   Level = "local"
)

// GlobalCollection is the shared collection backing global scope.
const GlobalCollection = "global_knowledge"

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// Resolve determines the effective scope for a request. An explicit
// "global" request always wins. With both project and dataset the scope is
// local unless "project" was requested; a project alone is project scope;
// no context at all is global.
func Resolve(project, dataset, requested string) Level {
	if requested == string(LevelGlobal) {
		return LevelGlobal
	}

	switch {
	case project != "" && dataset != "":
		if requested == string(LevelProject) {
			return LevelProject
		}
		return LevelLocal
	case project != "":
		return LevelProject
	default:
		return LevelGlobal
	}
}

// CollectionName derives the storage collection for a scope. Project and
// dataset names are sanitized to lowercase alphanumerics and underscores.
func CollectionName(project, dataset string, level Level) (string, error) {
	switch level {
	case LevelGlobal:
		return GlobalCollection, nil
	case LevelProject:
		if project == "" {
			return "", errors.New("project name required for project scope")
		}
		return "project_" + sanitizeName(project), nil
	case LevelLocal:
		if project == "" || dataset == "" {
			return "", errors.New("project and dataset names required for local scope")
		}
		return "project_" + sanitizeName(project) + "_dataset_" + sanitizeName(dataset), nil
	default:
		return "", errors.New("unknown scope level: " + string(level))
	}
}

// Accessible lists the scopes reachable from the given context, most
// specific first. Global is always included.
func Accessible(project, dataset string) []Level {
	var levels []Level
	if project != "" && dataset != "" {
		levels = append(levels, LevelLocal, LevelProject)
	} else if project != "" {
		levels = append(levels, LevelProject)
	}
	return append(levels, LevelGlobal)
}

// sanitizeName makes a name safe for collection identifiers: non-alphanumeric
// runs collapse to single underscores, trimmed and lowercased.
func sanitizeName(name string) string {
	sanitized := nonAlphanumeric.ReplaceAllString(name, "_")
	sanitized = underscoreRuns.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_")
	return strings.ToLower(sanitized)
}
