package dataset

import (
	"bufio"
	"encoding/json"
	"sort"

	"github.com/samber/lo"
)

// LoadRegistryIDs reads registry/plugins.jsonl and returns the plugin ids,
// sorted and de-duplicated. Lines without a usable id are skipped.
func (l *Locator) LoadRegistryIDs() ([]string, Presence) {
	f, err := l.appFs.Open(l.RegistryPath())
	if err != nil {
		return nil, Absent
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if id, ok := registryPluginID(line); ok {
			ids = append(ids, id)
		}
	}

	ids = lo.Uniq(ids)
	sort.Strings(ids)
	return ids, Present
}

// registryPluginID accepts either a bare string line or an object carrying
// one of the id keys the registry API has used.
func registryPluginID(line []byte) (string, bool) {
	var str string
	if err := json.Unmarshal(line, &str); err == nil && str != "" {
		return str, true
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return "", false
	}
	for _, key := range []string{"plugin_id", "id", "name"} {
		inner, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(inner, &str); err == nil && str != "" {
			return str, true
		}
	}
	return "", false
}
