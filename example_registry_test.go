package channels_test

import (
	"context"
	"fmt"

	"github.com/collabkit/channels"
	"github.com/collabkit/channels/internal/mock"
	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/document"
)

func ExampleRegistry_Migrate() {
	reg := channels.New()
	defer reg.Destroy()

	reg.Subscribe(func() {
		snap := reg.Snapshot()
		if snap.Current != nil {
			fmt.Printf("current %s is %s, transitioning=%v\n", snap.Current.Room, snap.Current.State, snap.Transitioning)
		}
	})

	opener := mock.NewOpener()
	s, err := reg.Migrate(context.Background(), opener, "workflow-42@v1", collab.JoinParams{"token": "secret"})
	if err != nil {
		panic(err)
	}

	// Simulate the relay: connect, sync, then deliver the room state.
	tr := opener.Last()
	tr.EmitStatus(collab.StatusConnected)
	tr.EmitSynced(true)
	state, _ := document.EncodeUpdate([][]byte{[]byte("node:a")})
	_ = tr.Document.(*document.Document).Apply(state, tr)

	if err := s.Wait(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println("settled:", s.Entry().State())

	// Output:
	// current workflow-42@v1 is connecting, transitioning=false
	// current workflow-42@v1 is settling, transitioning=false
	// current workflow-42@v1 is active, transitioning=false
	// settled: active
}

func ExampleRegistry_Destroy() {
	reg := channels.New()
	opener := mock.NewOpener()

	first, _ := reg.Migrate(context.Background(), opener, "workflow-42@v1", nil)
	second, _ := reg.Migrate(context.Background(), opener, "workflow-42@v2", nil)
	fmt.Println("transitioning:", reg.IsTransitioning())

	reg.Destroy()
	fmt.Println("first:", first.Err())
	fmt.Println("second:", second.Err())
	fmt.Println("current:", reg.CurrentEntry() == nil, "draining:", reg.DrainingEntry() == nil)

	// Output:
	// transitioning: true
	// first: migration superseded by a newer migration
	// second: channel registry destroyed
	// current: true draining: true
}
