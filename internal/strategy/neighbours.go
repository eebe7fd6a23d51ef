package strategy

import (
	"encoding/json"

	"github.com/pkg/errors"

	"vnet/internal/domain"
)

const (
	neighbourFile = "neighIPs.json"
	neighbourDir  = "/root"
)

type neighbourMap struct {
	OurIP    string   `json:"ourIP"`
	NeighIPs []string `json:"neighIPs"`
}

// addNeighbourMaps uploads to every host the addresses of the nodes it has
// an edge to
func addNeighbourMaps(plan *domain.Plan, g *domain.LogicalGraph) error {
	for _, host := range g.Nodes() {
		own, err := plan.Addresses.ResolveIP(host)
		if err != nil {
			return err
		}
		nm := neighbourMap{OurIP: own, NeighIPs: []string{}}
		for _, peer := range g.Neighbors(host) {
			ip, err := plan.Addresses.ResolveIP(peer)
			if err != nil {
				return err
			}
			nm.NeighIPs = append(nm.NeighIPs, ip)
		}

		data, err := json.Marshal(nm)
		if err != nil {
			return errors.Wrapf(err, "neighbour map of %s", host)
		}
		plan.Uploads = append(plan.Uploads, domain.Upload{
			Node:  host,
			Dir:   neighbourDir,
			Files: []domain.File{{Name: neighbourFile, Mode: 0644, Data: data}},
		})
	}
	return nil
}
