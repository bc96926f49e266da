package core

import "strconv"

// Flag is one `--name=value` argument.
type Flag struct {
	Name  string
	Value string
}

// Flags is an ordered flag list. Order is preserved when rendered.
type Flags []Flag

// Str appends a string flag.
func (f Flags) Str(name, value string) Flags {
	return append(f, Flag{Name: name, Value: value})
}

// Int appends an integer flag.
func (f Flags) Int(name string, value int) Flags {
	return append(f, Flag{Name: name, Value: strconv.Itoa(value)})
}

// Float appends a float flag in its shortest decimal form (0.1, 0.004, 200).
func (f Flags) Float(name string, value float64) Flags {
	return append(f, Flag{Name: name, Value: strconv.FormatFloat(value, 'f', -1, 64)})
}

// Args renders the flags as `--name=value` arguments.
func (f Flags) Args() []string {
	out := make([]string, 0, len(f))
	for _, fl := range f {
		out = append(out, "--"+fl.Name+"="+fl.Value)
	}
	return out
}
