// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/jeranaias/rigchat/internal/backend"
)

// temperatureFlag is a pflag.Value for --temperature. Values outside [0, 1]
// are clamped and remembered so the command can warn once.
type temperatureFlag struct {
	value   float64
	raw     string
	clamped bool
	set     bool
}

var _ pflag.Value = (*temperatureFlag)(nil)

func (f *temperatureFlag) String() string {
	if !f.set {
		return ""
	}
	return strconv.FormatFloat(f.value, 'f', -1, 64)
}

func (f *temperatureFlag) Set(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("%q is not a number", s)
	}
	f.raw = s
	f.value = backend.ClampTemperature(v)
	f.clamped = f.value != v
	f.set = true
	return nil
}

func (f *temperatureFlag) Type() string {
	return "float"
}

// useCaseFlag validates --use-case at parse time.
type useCaseFlag struct {
	value backend.UseCase
}

var _ pflag.Value = (*useCaseFlag)(nil)

func (f *useCaseFlag) String() string { return string(f.value) }

func (f *useCaseFlag) Set(s string) error {
	uc, err := backend.ParseUseCase(s)
	if err != nil {
		return err
	}
	f.value = uc
	return nil
}

func (f *useCaseFlag) Type() string { return "general|content-tagging" }

// backendFlag validates --backend at parse time.
type backendFlag struct {
	value string
}

var _ pflag.Value = (*backendFlag)(nil)

// backendNames lists the accepted backends.
var backendNames = []string{"ollama", "gemini", "echo"}

func (f *backendFlag) String() string { return f.value }

func (f *backendFlag) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, name := range backendNames {
		if s == name {
			f.value = s
			return nil
		}
	}
	return fmt.Errorf("unknown backend %q (want %s)", s, strings.Join(backendNames, ", "))
}

func (f *backendFlag) Type() string { return "ollama|gemini|echo" }
