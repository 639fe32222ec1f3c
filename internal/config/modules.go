package config

import (
	_ "github.com/any-hub/shellcache/internal/strategy/cachefirst"
	_ "github.com/any-hub/shellcache/internal/strategy/networkfirst"
	_ "github.com/any-hub/shellcache/internal/strategy/swr"
)
