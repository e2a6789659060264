package util

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gobwas/glob"
	"go.uber.org/zap/zapcore"
)

// ConfigDecodeHook is the decode hook shared by every binary's viper config.
func ConfigDecodeHook(globSeparators ...rune) mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		StringToLogLevelHookFunc(),
		StringToGlobHookFunc(globSeparators...),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func StringToLogLevelHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeFor[zapcore.Level]() {
			return data, nil
		}
		if d, ok := data.(string); ok {
			return zapcore.ParseLevel(d)
		}
		return data, nil
	}
}

func StringToGlobHookFunc(separators ...rune) mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeFor[glob.Glob]() {
			return data, nil
		}
		if d, ok := data.(string); ok {
			return glob.Compile(d, separators...)
		}
		return data, nil
	}
}
