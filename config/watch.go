package config

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/file"

	"github.com/ultrafast-lab/scanctl/axis"
)

// Watch calls fn with the re-read configuration every time the file at
// path changes.  fn receives the validation error, if any.
func Watch(path string, fn func(Config, error)) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			fn(Config{}, err)
			return
		}
		k := koanf.New(".")
		if err := Load(k, path); err != nil {
			fn(Config{}, err)
			return
		}
		c, err := Unmarshal(k)
		if err == nil {
			err = Validate(c)
		}
		fn(c, err)
	})
}

// ApplyAxes pushes the axis settings of c into the controllers.  Axes in
// use by a scan keep their settings and are reported in the error.
func ApplyAxes(c Config, ctls map[string]*axis.Controller) error {
	var skipped []string
	for _, a := range c.Axes {
		ctl, ok := ctls[a.Name]
		if !ok {
			continue
		}
		s, err := a.Settings()
		if err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
		if err := ctl.Update(s); err != nil {
			if errors.Is(err, axis.ErrFrozen) {
				skipped = append(skipped, a.Name)
				continue
			}
			return fmt.Errorf("%s: %w", a.Name, err)
		}
	}
	if len(skipped) > 0 {
		return fmt.Errorf("%w: %v not updated", axis.ErrFrozen, skipped)
	}
	return nil
}
