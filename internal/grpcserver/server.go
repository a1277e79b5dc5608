package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ajbt200128/mosaic/internal/manifest"
	"github.com/ajbt200128/mosaic/internal/mosaic"
	"github.com/ajbt200128/mosaic/internal/storage"
	"github.com/ajbt200128/mosaic/internal/tasks"
)

const maxMsgSize = 16 * 1024 * 1024

// Server implements MosaicServer on top of the merge tasks.
type Server struct {
	opts  mosaic.Options
	store *storage.Store
	log   *slog.Logger
}

// New returns a server rendering with opts. A nil store skips job records.
func New(opts mosaic.Options, store *storage.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, store: store, log: logger}
}

// Start listens on addr and serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterMosaicServer(grpcServer, s)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	s.log.Info("gRPC server starting", "addr", lis.Addr().String(), "service", ServiceName)
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// requestManifest reads a request either as {"manifest": "<path>"} or as an
// inline manifest body.
func requestManifest(req *structpb.Struct) (*manifest.Manifest, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", manifest.ErrInvalid)
	}
	if v, ok := req.GetFields()["manifest"]; ok {
		return manifest.Load(v.GetStringValue())
	}
	data, err := req.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", manifest.ErrInvalid, err)
	}
	return manifest.Parse(data, true)
}

// Merge renders the requested manifest.
func (s *Server) Merge(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m, err := requestManifest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	jobID := uuid.NewString()
	if s.store != nil {
		_ = s.store.RecordJobQueued(storage.JobRecord{
			ID:         jobID,
			JobType:    "merge",
			Status:     "queued",
			InputPath:  m.Resolve(m.Reference),
			OutputPath: m.Resolve(m.Output),
		})
		_ = s.store.RecordJobStart(jobID)
	}

	res, err := tasks.RunMerge(ctx, tasks.MergeRequest{JobID: jobID, Manifest: m, Options: s.opts})
	if err != nil {
		s.log.Warn("gRPC merge failed", "job", jobID, "error", err)
		_ = s.store.RecordJobResult(jobID, "failed", map[string]any{"user_message": mosaic.UserMessage(err)}, err.Error())
		return nil, toStatus(err)
	}

	meta := res.Meta()
	_ = s.store.RecordJobResult(jobID, "completed", meta, "")
	if err := s.store.RecordCorrespondences(jobID, res.ReferencePoints, res.MovingPoints); err != nil {
		s.log.Warn("failed to record correspondences", "job", jobID, "error", err)
	}
	meta["job_id"] = jobID
	return toStruct(meta)
}

// Estimate fits the transform of the requested manifest.
func (s *Server) Estimate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m, err := requestManifest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := tasks.RunEstimate(ctx, m, s.opts.PointOrigin)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"homography": res.Homography.Slice(),
		"residuals":  res.Residuals,
	})
}

// toStatus maps merge errors onto gRPC codes.
func toStatus(err error) error {
	var me *mosaic.MergeError
	switch {
	case errors.As(err, &me):
		return status.Error(codes.FailedPrecondition, me.UserMessage())
	case errors.Is(err, manifest.ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
