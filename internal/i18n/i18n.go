package i18n

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/xeylabs/xbot/resources"
)

var state = struct {
	sync.RWMutex
	translations map[string]map[string]string
	loaded       map[string]bool
}{
	translations: make(map[string]map[string]string),
	loaded:       make(map[string]bool),
}

func load(lang string) {
	state.loaded[lang] = true
	data, err := resources.FS.ReadFile(fmt.Sprintf("i18n/%s.yml", lang))
	if err != nil {
		log.WithError(err).Errorln("cant load i18n")
		return
	}
	translations := make(map[string]string)
	if err := yaml.Unmarshal(data, &translations); err != nil {
		log.WithError(err).Errorln("cant unmarshal i18n")
		return
	}
	state.translations[lang] = translations
}

// Get returns the translation of an English source string; the key itself is
// the fallback, so untranslated languages degrade to English.
func Get(key, lang string) string {
	if "en" == lang {
		return key
	}
	state.Lock()
	if !state.loaded[lang] {
		load(lang)
	}
	res, ok := state.translations[lang][key]
	state.Unlock()
	if ok {
		return res
	}
	log.Tracef(`no translation for key %q`, key)
	return key
}
