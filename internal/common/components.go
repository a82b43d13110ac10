package common

const (
	ComponentSupervisor  = "supervisor"
	ComponentIngest      = "ingest"
	ComponentModuleHost  = "module-host"
	ComponentStore       = "store"
	ComponentBlockSource = "block-source"
	ComponentAPI         = "api"
	ComponentMaintenance = "db-maintenance"
)

var AllComponents = map[string]struct{}{
	ComponentSupervisor:  {},
	ComponentIngest:      {},
	ComponentModuleHost:  {},
	ComponentStore:       {},
	ComponentBlockSource: {},
	ComponentAPI:         {},
	ComponentMaintenance: {},
}
