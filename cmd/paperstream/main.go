package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/paperstreamhq/paperstream/internal/clock"
	"github.com/paperstreamhq/paperstream/internal/observability"
	"github.com/paperstreamhq/paperstream/internal/server"
	"github.com/paperstreamhq/paperstream/pkg/db"
)

func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
