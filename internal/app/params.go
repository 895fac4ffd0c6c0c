package app

import (
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ParamInt lit un entier en base 10 ("08" donne 8). Une chaîne vide ou nil donne 0.
func ParamInt(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToIntE(v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
