package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/eaglemoor/coalescer/grpcfetch"
	"github.com/eaglemoor/coalescer/internal/config"
	"github.com/eaglemoor/coalescer/internal/logging"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type station struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Genre     string `json:"genre"`
	Listeners int    `json:"listeners"`
}

type profile struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

var catalogue = map[string]station{
	"night-drive": {ID: "night-drive", Name: "Night Drive FM", Genre: "synthwave", Listeners: 1200},
	"deep-cuts":   {ID: "deep-cuts", Name: "Deep Cuts", Genre: "house", Listeners: 830},
	"sunday-soul": {ID: "sunday-soul", Name: "Sunday Soul", Genre: "soul", Listeners: 410},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("can't load config: %s", err.Error())
	}

	logger, err := logging.New(cfg.LogLevel, "lookup-server")
	if err != nil {
		log.Fatalf("can't init logger: %s", err.Error())
	}
	defer func() { _ = logger.Sync() }()

	lis, err := net.Listen("tcp", cfg.LookupListen)
	if err != nil {
		logger.Fatal("listen failed", zap.String("addr", cfg.LookupListen), zap.Error(err))
	}

	server := grpc.NewServer()
	grpcfetch.Register(server, lookup(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	logger.Info("lookup server started", zap.String("addr", lis.Addr().String()))
	if err := server.Serve(lis); err != nil {
		logger.Error("serve failed", zap.Error(err))
	}
}

func lookup(logger *zap.Logger) grpcfetch.Handler {
	stations := grpcfetch.TypedHandler(func(ctx context.Context, group string, keys []string) (map[string]station, error) {
		resp := make(map[string]station, len(keys))
		for _, key := range keys {
			if s, ok := catalogue[key]; ok {
				resp[key] = s
			}
		}

		return resp, nil
	})

	users := grpcfetch.TypedHandler(func(ctx context.Context, group string, keys []string) (map[string]profile, error) {
		resp := make(map[string]profile, len(keys))
		for _, key := range keys {
			resp[key] = profile{ID: key, Nickname: fmt.Sprintf("listener #%s", key)}
		}

		return resp, nil
	})

	return func(ctx context.Context, group string, keys []string) (map[string]*structpb.Struct, error) {
		logger.Debug("batch get", zap.String("group", group), zap.Strings("keys", keys))

		switch group {
		case "stations":
			return stations(ctx, group, keys)
		case "users":
			return users(ctx, group, keys)
		default:
			return nil, status.Errorf(codes.NotFound, "unknown group %q", group)
		}
	}
}
