// Package classify predicts the importer of a trade record from its
// features. Predictions come from a lookup artifact produced by an external
// trainer; the package never trains.
package classify

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/comex-enrich/internal/cnpj"
	"github.com/sells-group/comex-enrich/internal/model"
)

// Prediction is a predicted importer identifier with its confidence in [0, 1].
// The zero value means no prediction.
type Prediction struct {
	ID         string
	Confidence float64
}

// Empty reports whether p carries no identifier.
func (p Prediction) Empty() bool { return p.ID == "" }

// Classifier predicts an importer for one record.
type Classifier interface {
	Predict(f model.Features) Prediction
}

// Entry is one row of an artifact. UF and City narrow the match; an entry
// without them applies at the coarser level.
type Entry struct {
	NCM        string  `yaml:"ncm"`
	UF         string  `yaml:"uf,omitempty"`
	City       string  `yaml:"city,omitempty"`
	ID         string  `yaml:"cnpj"`
	Confidence float64 `yaml:"confidence"`
}

// Artifact is an immutable lookup model keyed by NCM + UF + city, falling
// back to NCM + UF and then NCM alone.
type Artifact struct {
	Version   int     `yaml:"version"`
	TrainedAt string  `yaml:"trained_at,omitempty"`
	Entries   []Entry `yaml:"entries"`

	index map[key]Prediction
}

type key struct {
	ncm, uf, city string
}

// LoadArtifact reads and indexes a YAML artifact from path.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read artifact %s", path)
	}
	return ParseArtifact(data)
}

// ParseArtifact decodes and indexes a YAML artifact. When two entries share a
// key the higher confidence wins.
func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrap(err, "classify: parse artifact")
	}

	a.index = make(map[key]Prediction, len(a.Entries))
	for i, e := range a.Entries {
		k := newKey(e.NCM, e.UF, e.City)
		if k.ncm == "" {
			return nil, eris.Errorf("classify: entry %d: ncm is required", i)
		}
		if k.uf == "" && k.city != "" {
			return nil, eris.Errorf("classify: entry %d: city without uf", i)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return nil, eris.Errorf("classify: entry %d: confidence %v outside [0, 1]", i, e.Confidence)
		}
		id := cnpj.Normalize(e.ID)
		if id == "" {
			return nil, eris.Errorf("classify: entry %d: cnpj is required", i)
		}
		if cur, ok := a.index[k]; ok && cur.Confidence >= e.Confidence {
			continue
		}
		a.index[k] = Prediction{ID: id, Confidence: e.Confidence}
	}
	return &a, nil
}

// Len returns the number of indexed keys.
func (a *Artifact) Len() int { return len(a.index) }

// Predict returns the most specific prediction for f, or the zero Prediction.
func (a *Artifact) Predict(f model.Features) Prediction {
	k := newKey(f.NCM, f.ImporterUF, f.ImporterCity)
	if k.ncm == "" {
		return Prediction{}
	}
	for _, probe := range []key{k, {ncm: k.ncm, uf: k.uf}, {ncm: k.ncm}} {
		if p, ok := a.index[probe]; ok {
			return p
		}
	}
	return Prediction{}
}

func newKey(ncm, uf, city string) key {
	return key{
		ncm:  digits(ncm),
		uf:   strings.ToUpper(strings.TrimSpace(uf)),
		city: strings.ToUpper(strings.Join(strings.Fields(city), " ")),
	}
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Annotate fills PredictedID and Confidence for records that have no
// predicted identifier, re-deriving their normalized keys. Records that
// already carry one are left alone. It returns how many were filled.
func Annotate(records []model.TradeRecord, clf Classifier) int {
	if clf == nil {
		return 0
	}
	n := 0
	for i := range records {
		r := &records[i]
		if strings.TrimSpace(r.PredictedID) != "" {
			continue
		}
		p := clf.Predict(r.Features())
		if p.Empty() {
			continue
		}
		r.PredictedID = p.ID
		r.Confidence = p.Confidence
		r.Normalize()
		n++
	}
	return n
}
