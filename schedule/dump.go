package schedule

import (
	"gopkg.in/yaml.v3"
)

// DumpSchedule renders a function's full schedule state as YAML: the
// same canonical document the fingerprint hashes, so a dump is a
// human-readable view of exactly what the digest covers.
func (u *Unit) DumpSchedule(f *Func) (string, error) {
	doc := canonicalizeFunc(u.function(f.id))
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
