package channel

import "github.com/mohammad-safakhou/newsflow/internal/plugin"

// RegisterBuiltins wires the built-in delivery channel modules into reg.
func RegisterBuiltins(reg *plugin.Registry) {
	reg.RegisterChannelModule("telegram", NewTelegram)
	reg.RegisterChannelModule("email", NewEmail)
}
