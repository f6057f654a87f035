package terminal

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/tkyk0317/r-debugger/pkg/config"
	"github.com/tkyk0317/r-debugger/pkg/terminal/colorize"
)

func configureCmd(t *Term, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

// configField is a settable key of config.Config, named by its yaml tag.
type configField struct {
	name  string
	value reflect.Value
}

func configFields(conf *config.Config) []configField {
	v := reflect.ValueOf(conf).Elem()
	fields := make([]configField, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Tag.Get("yaml")
		if comma := strings.Index(name, ","); comma >= 0 {
			name = name[:comma]
		}
		if name == "" || name == "-" {
			continue
		}
		fields = append(fields, configField{name, v.Field(i)})
	}
	return fields
}

func findConfigField(conf *config.Config, name string) (configField, bool) {
	for _, f := range configFields(conf) {
		if f.name == name {
			return f, true
		}
	}
	return configField{}, false
}

func (f configField) String() string {
	if f.value.Kind() == reflect.Ptr {
		if f.value.IsNil() {
			return "<not defined>"
		}
		return fmt.Sprint(f.value.Elem())
	}
	return fmt.Sprint(f.value)
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, f := range configFields(t.conf) {
		fmt.Fprintf(w, "%s\t%s\n", f.name, f)
	}
	return w.Flush()
}

func configureSet(t *Term, args string) error {
	v := split2PartsBySpace(args)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = v[1]
	}

	if cfgname == "alias" {
		return configureSetAlias(t, rest)
	}

	f, ok := findConfigField(t.conf, cfgname)
	if !ok || !f.value.CanSet() {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}

	typ := f.value.Type()
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	val, err := parseConfigValue(cfgname, typ, rest)
	if err != nil {
		return err
	}
	if f.value.Kind() == reflect.Ptr {
		p := reflect.New(typ)
		p.Elem().Set(val)
		f.value.Set(p)
	} else {
		f.value.Set(val)
	}

	if cfgname == "source-list-line-color" && t.colorEscapes != nil {
		t.colorEscapes[colorize.LineNoStyle] = fmt.Sprintf(terminalHighlightEscapeCode, t.conf.SourceListLineColor)
	}
	return nil
}

func parseConfigValue(name string, typ reflect.Type, arg string) (reflect.Value, error) {
	switch typ.Kind() {
	case reflect.Int:
		n, err := strconv.Atoi(arg)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("argument to %q must be a number", name)
		}
		if n < 0 {
			return reflect.Value{}, fmt.Errorf("argument to %q must be a number greater than zero", name)
		}
		if name == "source-list-line-color" && !validLineColor(n) {
			return reflect.Value{}, fmt.Errorf("argument to %q must be an ANSI color code (30-37, 90-97)", name)
		}
		return reflect.ValueOf(n), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(arg)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("argument to %q must be true or false", name)
		}
		return reflect.ValueOf(b), nil
	case reflect.String:
		if name == "disassemble-flavor" && arg != "intel" && arg != "gnu" {
			return reflect.Value{}, fmt.Errorf("argument to %q must be intel or gnu", name)
		}
		return reflect.ValueOf(arg), nil
	default:
		return reflect.Value{}, fmt.Errorf("unsupported type for configuration key %q", name)
	}
}

// configureSetAlias adds the alias "config alias <command> <alias>" or
// removes it with "config alias <alias>".
func configureSetAlias(t *Term, rest string) error {
	argv, err := splitArgs(rest)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 1:
		for cmd, aliases := range t.conf.Aliases {
			kept := aliases[:0]
			for _, a := range aliases {
				if a != argv[0] {
					kept = append(kept, a)
				}
			}
			t.conf.Aliases[cmd] = kept
		}
	case 2:
		alias, cmd := argv[1], t.cmds.name(argv[0])
		if cmd == "" {
			return fmt.Errorf("unknown command %q", argv[0])
		}
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	t.buildCompletions()
	return nil
}
