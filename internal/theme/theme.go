package theme

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/xeylabs/xbot/resources"
)

const fallbackTheme = "classic"

var (
	once   sync.Once
	themes map[string]map[string]string
)

func load() {
	once.Do(func() {
		themes = map[string]map[string]string{}
		data, err := resources.FS.ReadFile("themes/themes.yml")
		if err != nil {
			log.WithError(err).Error("cant load themes")
			return
		}
		if err := yaml.Unmarshal(data, &themes); err != nil {
			log.WithError(err).Error("cant unmarshal themes")
		}
	})
}

// Icon resolves an icon by theme and key, falling back to the classic theme
// and finally to a placeholder.
func Icon(themeName, iconKey string) string {
	load()
	set, ok := themes[themeName]
	if !ok {
		set = themes[fallbackTheme]
	}
	if icon, ok := set[iconKey]; ok {
		return icon
	}
	if icon, ok := themes[fallbackTheme][iconKey]; ok {
		return icon
	}
	return "❓"
}

// Available lists the known theme names, sorted.
func Available() []string {
	load()
	names := make([]string, 0, len(themes))
	for name := range themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
