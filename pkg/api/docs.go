// Package api provides the operator status HTTP API for Lodestone
// @title Lodestone API
// @version 1.0
// @description REST API for inspecting indexers run by the Lodestone execution engine
// @contact.name API Support
// @contact.url https://github.com/lodestone-labs/lodestone
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
