/*
Package config has two parts:

config.go: A really simple key-value store for configs. Stores all
configs as string values internally, but has getters like GetInt,
GetDuration, etc. LoadFile fills it from the sections of an ini file.

defaults.go: Every configuration key is documented here together with
its default value.
*/
package config
