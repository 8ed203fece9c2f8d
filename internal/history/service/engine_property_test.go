package service

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
)

func propertyFixture() (lineagedomain.ActionDetail, []lineagedomain.ActionDetail) {
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }
	root := rootDetail(201, inbound(6))
	descendants := []lineagedomain.ActionDetail{
		{
			Action:  action(2, lineagedomain.TaskActionProcess, 200, at(1)),
			Reports: []lineagedomain.Report{scheduled(outbound("org-a", "svc", 3, at(1)), at(30))},
		},
		{
			Action:  action(3, lineagedomain.TaskActionProcess, 200, at(1)),
			Reports: []lineagedomain.Report{scheduled(outbound("org-b", "svc", 3, at(1)), at(45))},
		},
		{Action: action(4, lineagedomain.TaskActionBatch, 200, at(2))},
		{
			Action:  action(5, lineagedomain.TaskActionSend, 200, at(31)),
			Reports: []lineagedomain.Report{outbound("org-a", "svc", 3, at(31))},
		},
		{
			Action:  action(6, lineagedomain.TaskActionSend, 200, at(46)),
			Reports: []lineagedomain.Report{outbound("org-b", "svc", 1, at(46)), outbound("org-c", "svc", 2, at(46))},
		},
		{
			Action:  action(7, lineagedomain.TaskActionDownload, 200, at(50)),
			Reports: []lineagedomain.Report{outbound("org-b", "svc", 3, at(50))},
		},
	}
	return root, descendants
}

func TestBuildIsOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	root, descendants := propertyFixture()
	engine := NewEngine(nil)
	want, err := engine.Build(root, descendants)
	if err != nil {
		t.Fatalf("build canonical: %v", err)
	}

	properties.Property("any permutation of descendants yields the same history", prop.ForAll(
		func(seed int64) bool {
			shuffled := append([]lineagedomain.ActionDetail(nil), descendants...)
			rnd := rand.New(rand.NewSource(seed))
			rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			got, err := engine.Build(root, shuffled)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(want, got)
		},
		gen.Int64(),
	))

	properties.Property("repeating descendants never double counts", prop.ForAll(
		func(repeats int) bool {
			doubled := append([]lineagedomain.ActionDetail(nil), descendants...)
			for i := 0; i < repeats; i++ {
				doubled = append(doubled, descendants[i%len(descendants)])
			}
			got, err := engine.Build(root, doubled)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(want, got)
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
