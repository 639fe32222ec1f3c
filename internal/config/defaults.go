package config

import "time"

// 以下默认值与站点的 App Shell 布局保持一致，TOML 中同名字段可覆盖。
var (
	defaultShellURLs = []string{
		"./",
		"./index.html",
		"./src/styles/tailwind.css",
		"./src/styles/style.css",
		"./src/styles/fontawesome.min.css",
		"./src/scripts/main.js",
		"./src/scripts/carousel.js",
		"./src/scripts/form.js",
		"./public/img/foto_perfil.webp",
		"./public/img/logo.ico",
		"./public/docs/cv.pdf",
	}

	defaultExternalResources = []string{
		"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700;800&display=swap",
		"https://fonts.gstatic.com/s/inter/v12/UcCO3FwrK3iLTeHuS_fvQtMwCp50KnMw2boKoduKmMEVuI6fMNg.woff2",
		"https://kit.fontawesome.com/your-fontawesome-kit.js",
	}

	defaultShellPaths = []string{
		"/",
		"/index.html",
		"/src/styles/",
		"/src/scripts/main.js",
		"/src/scripts/carousel.js",
		"/src/scripts/form.js",
		"/public/img/foto_perfil.webp",
		"/public/img/logo.ico",
	}

	defaultIgnorePatterns = []string{
		"formspree.io",
		"google-analytics",
		"gtag",
		".mp4",
		".mp3",
		".avi",
	}

	defaultDynamicMarkers = []string{"/api/", "?", ".php", ".json"}

	defaultCacheableExtensions = []string{
		"css", "js", "webp", "png", "jpg", "jpeg", "svg", "woff2", "woff", "ttf", "ico", "pdf",
	}

	defaultCacheableTypes = []string{
		"text/html",
		"text/css",
		"application/javascript",
		"image/webp",
		"image/png",
		"image/jpeg",
		"image/svg+xml",
		"font/woff2",
		"application/pdf",
	}

	defaultCrossOriginHosts = []string{"fonts.googleapis.com", "fonts.gstatic.com"}

	defaultVibrate = []int{100, 50, 100}
)

const (
	defaultListenPort      = 5000
	defaultStorageBackend  = "fs"
	defaultUpstreamTimeout = 30 * time.Second
	defaultInitialBackoff  = 500 * time.Millisecond
	defaultConcurrency     = 4
	defaultCachePrefix     = "aldair-portfolio"
	defaultCacheVersion    = "v1.0"
)

func cloneStrings(in []string) []string {
	return append([]string(nil), in...)
}
