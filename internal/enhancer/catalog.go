package enhancer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"strings"

	"github.com/fpang/penguin-studio/internal/assets"
	"gopkg.in/yaml.v3"
)

// Catalog is the data the offline composer draws from.
type Catalog struct {
	Traits       string   `yaml:"traits"`
	Closing      string   `yaml:"closing"`
	Scenarios    []string `yaml:"scenarios"`
	Environments []string `yaml:"environments"`
	CameraStyles []string `yaml:"camera_styles"`
}

// Selector picks an index in [0, n). Tests inject a fixed selector to get
// deterministic prompts.
type Selector interface {
	Intn(n int) int
}

type randomSelector struct{}

func (randomSelector) Intn(n int) int { return rand.IntN(n) }

// RandomSelector picks uniformly at random.
func RandomSelector() Selector { return randomSelector{} }

// FixedSelector always picks index i (modulo n).
type FixedSelector int

func (f FixedSelector) Intn(n int) int { return int(f) % n }

// ParseCatalog decodes a YAML catalog and checks every list is populated.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	switch {
	case len(c.Scenarios) == 0:
		return nil, errors.New("catalog: scenarios must not be empty")
	case len(c.Environments) == 0:
		return nil, errors.New("catalog: environments must not be empty")
	case len(c.CameraStyles) == 0:
		return nil, errors.New("catalog: camera_styles must not be empty")
	}
	c.Traits = strings.TrimSpace(c.Traits)
	c.Closing = strings.TrimSpace(c.Closing)
	return &c, nil
}

// LoadCatalog reads a catalog file, or returns the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(assets.PenguinCatalog)
}

var (
	themeWord    = regexp.MustCompile(`(?i)penguin`)
	themeSubject = regexp.MustCompile(`(?i)\b(?:(?:an?|the)\s+)?penguins?\b`)
)

// ContainsTheme reports whether s already mentions penguins.
func ContainsTheme(s string) bool {
	return themeWord.MatchString(s)
}

// Compose builds a penguin prompt from idea without any network call. It
// never fails and its output always contains the theme keyword.
func (c *Catalog) Compose(idea string, sel Selector) string {
	if sel == nil {
		sel = RandomSelector()
	}
	scenario := c.Scenarios[sel.Intn(len(c.Scenarios))]
	environment := c.Environments[sel.Intn(len(c.Environments))]
	camera := c.CameraStyles[sel.Intn(len(c.CameraStyles))]

	idea = strings.TrimSpace(idea)
	subject := scenario
	switch {
	case ContainsTheme(idea):
		if rest := stripTheme(idea); rest != "" {
			subject = scenario + " as they " + rest
		}
	case idea != "":
		subject = scenario + " " + idea
	}

	return fmt.Sprintf("%s %s. %s %s, %s", subject, environment, c.Traits, camera, c.Closing)
}

// stripTheme removes penguin mentions (with a leading article) and collapses whitespace.
func stripTheme(s string) string {
	return strings.Join(strings.Fields(themeSubject.ReplaceAllString(s, " ")), " ")
}
