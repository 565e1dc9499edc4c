package cowatch

import (
	"context"

	"google.golang.org/grpc"

	"github.com/oggyb/cowatch/internal/match"
	"github.com/oggyb/cowatch/internal/quota"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cowatch.v1.CoWatch"

// CoWatchServer is the server API. Messages are plain structs carried by
// the JSON codec registered in internal/server.
type CoWatchServer interface {
	StartWatching(context.Context, *StartWatchingRequest) (*SessionResponse, error)
	UpdateProgress(context.Context, *UpdateProgressRequest) (*UpdateProgressResponse, error)
	StopWatching(context.Context, *StopWatchingRequest) (*Empty, error)
	GetCurrentSession(context.Context, *Empty) (*SessionResponse, error)
	GetCurrentlyWatching(context.Context, *Empty) (*GroupsResponse, error)
	WatchCurrentlyWatching(*Empty, grpc.ServerStream) error
	GetRealTimeMatches(context.Context, *Empty) (*MatchesResponse, error)
	CanSwipe(context.Context, *Empty) (*quota.Decision, error)
	CanUndo(context.Context, *Empty) (*quota.Decision, error)
	GetSwipeLimits(context.Context, *Empty) (*Limits, error)
	Like(context.Context, *LikeRequest) (*match.Result, error)
	Pass(context.Context, *TargetRequest) (*match.Result, error)
	Undo(context.Context, *Empty) (*UndoResponse, error)
	Unmatch(context.Context, *TargetRequest) (*match.Result, error)
	Block(context.Context, *TargetRequest) (*match.Result, error)
	Unblock(context.Context, *TargetRequest) (*match.Result, error)
	RestoreMatch(context.Context, *RestoreMatchRequest) (*match.Result, error)
	AddExtraSwipes(context.Context, *AddExtraSwipesRequest) (*Limits, error)
	SetPremium(context.Context, *SetPremiumRequest) (*Limits, error)
	ListSwipeHistory(context.Context, *ListSwipeHistoryRequest) (*ListSwipeHistoryResponse, error)
	GetRelationships(context.Context, *Empty) (*match.Relationships, error)
}

// unary adapts a typed method to grpc.MethodDesc the way generated code does.
func unary[Req, Resp any](name string, call func(CoWatchServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CoWatchServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CoWatchServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes cowatch.v1.CoWatch for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoWatchServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartWatching", CoWatchServer.StartWatching),
		unary("UpdateProgress", CoWatchServer.UpdateProgress),
		unary("StopWatching", CoWatchServer.StopWatching),
		unary("GetCurrentSession", CoWatchServer.GetCurrentSession),
		unary("GetCurrentlyWatching", CoWatchServer.GetCurrentlyWatching),
		unary("GetRealTimeMatches", CoWatchServer.GetRealTimeMatches),
		unary("CanSwipe", CoWatchServer.CanSwipe),
		unary("CanUndo", CoWatchServer.CanUndo),
		unary("GetSwipeLimits", CoWatchServer.GetSwipeLimits),
		unary("Like", CoWatchServer.Like),
		unary("Pass", CoWatchServer.Pass),
		unary("Undo", CoWatchServer.Undo),
		unary("Unmatch", CoWatchServer.Unmatch),
		unary("Block", CoWatchServer.Block),
		unary("Unblock", CoWatchServer.Unblock),
		unary("RestoreMatch", CoWatchServer.RestoreMatch),
		unary("AddExtraSwipes", CoWatchServer.AddExtraSwipes),
		unary("SetPremium", CoWatchServer.SetPremium),
		unary("ListSwipeHistory", CoWatchServer.ListSwipeHistory),
		unary("GetRelationships", CoWatchServer.GetRelationships),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchCurrentlyWatching",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(Empty)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(CoWatchServer).WatchCurrentlyWatching(in, stream)
			},
		},
	},
	Metadata: "cowatch/v1/cowatch.json",
}

// RegisterCoWatchServer attaches srv to s.
func RegisterCoWatchServer(s grpc.ServiceRegistrar, srv CoWatchServer) {
	s.RegisterService(&ServiceDesc, srv)
}
