package app

import (
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/modules/http_request"
	"github.com/vk/stagegrid/modules/print"
	"github.com/vk/stagegrid/modules/s3"
	"github.com/vk/stagegrid/modules/shell"
	"github.com/vk/stagegrid/modules/socketio"
)

// coreModules is the definitive list of all executor modules that are
// compiled into the stagegrid binary.
var coreModules = []registry.Module{
	&print.Module{},
	&shell.Module{},
	&http_request.Module{},
	&socketio.Module{},
	&s3.Module{},
}

// CoreModules returns the compiled-in executor modules.
func CoreModules() []registry.Module {
	return append([]registry.Module(nil), coreModules...)
}
