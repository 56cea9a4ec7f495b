package dag

import (
	"encoding/hex"
	"strconv"

	"lukechampine.com/blake3"
)

// IDLength is the length of a derived id in hex characters.
const IDLength = 64

// DeriveID returns the id of a child of parentID. The disambiguator keeps
// siblings committed from the same parent apart.
func DeriveID(parentID, disambiguator string) string {
	sum := blake3.Sum256([]byte(parentID + "/" + disambiguator))
	return hex.EncodeToString(sum[:])
}

// disambiguator combines the graph lane and the commit sequence. Lanes differ
// between a graph and every graph detached from it.
func (g *Graph[P]) disambiguator(seq uint64) string {
	return g.lane + strconv.FormatUint(seq, 10)
}
