package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/andyhost/docs.go -o docs`.
//
// @title           andyhost status API
// @version         1.0
// @description     Local status and control API for a host sharing an Ollama backend with an Andy API pool.
//
// @contact.name   andyhost maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
