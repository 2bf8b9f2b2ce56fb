package zones

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/smartmove/internal/domain"
)

//go:embed schema.cue
var schemaCUE string

// LoadError reports an invalid zone file, with a CUE position when known.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads a zone file from disk. A missing file yields an empty
// zone set so that a fresh deployment starts without restrictions.
func Load(path string) (*Service, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("zone file not found, no restricted zones loaded", "path", path)
		return NewService(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}

	svc, err := Parse(path, src)
	if err != nil {
		return nil, err
	}
	slog.Info("restricted zones loaded", "path", path, "zones", svc.Count())
	return svc, nil
}

// Parse compiles CUE source, validates it against the embedded schema,
// and builds a Service. filename is used only in error positions.
//
// Expected shape:
//
//	zones: ROME: [{id: "centro", minLat: 41.89, maxLat: 41.91,
//	               minLon: 12.47, maxLon: 12.50, vehicleTypes: ["E_SCOOTER"]}]
func Parse(filename string, src []byte) (*Service, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile zone schema: %w", err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	value := schema.Unify(data)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	byCity := make(map[domain.City][]Zone)

	zonesVal := value.LookupPath(cue.ParsePath("zones"))
	if !zonesVal.Exists() {
		return NewService(byCity), nil
	}

	iter, err := zonesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		city, err := domain.ParseCity(iter.Selector().Unquoted())
		if err != nil {
			return nil, &LoadError{Field: "zones." + iter.Selector().String(), Message: err.Error(), Pos: iter.Value().Pos()}
		}

		list, err := iter.Value().List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			z, err := parseZone(list.Value())
			if err != nil {
				return nil, err
			}
			byCity[city] = append(byCity[city], z)
		}
	}

	return NewService(byCity), nil
}

func parseZone(v cue.Value) (Zone, error) {
	var z Zone
	var err error

	if z.ID, err = v.LookupPath(cue.ParsePath("id")).String(); err != nil {
		return Zone{}, formatCUEError(err)
	}

	z.Type = ZoneRectangle
	if typeVal := v.LookupPath(cue.ParsePath("type")); typeVal.Exists() {
		if z.Type, err = typeVal.String(); err != nil {
			return Zone{}, formatCUEError(err)
		}
	}

	bounds := []struct {
		name string
		dst  *float64
	}{
		{"minLat", &z.MinLat},
		{"maxLat", &z.MaxLat},
		{"minLon", &z.MinLon},
		{"maxLon", &z.MaxLon},
	}
	for _, b := range bounds {
		if *b.dst, err = v.LookupPath(cue.ParsePath(b.name)).Float64(); err != nil {
			return Zone{}, formatCUEError(err)
		}
	}

	if z.MinLat > z.MaxLat || z.MinLon > z.MaxLon {
		return Zone{}, &LoadError{
			Field:   "zone " + z.ID,
			Message: "min bound exceeds max bound",
			Pos:     v.Pos(),
		}
	}

	if typesVal := v.LookupPath(cue.ParsePath("vehicleTypes")); typesVal.Exists() {
		types, err := typesVal.List()
		if err != nil {
			return Zone{}, formatCUEError(err)
		}
		z.VehicleTypes = []domain.VehicleType{}
		for types.Next() {
			s, err := types.Value().String()
			if err != nil {
				return Zone{}, formatCUEError(err)
			}
			z.VehicleTypes = append(z.VehicleTypes, domain.VehicleType(s))
		}
	}

	return z, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
