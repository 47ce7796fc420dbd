package cmd

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// mustBind binds a flag to a viper key. A nil flag is a programming error.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
