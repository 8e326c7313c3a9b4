package rxml

// RemoveDuplicateStringSiblings rewrites a tree so that, for any parent
// whose children include more than one element with a tag name in
// singleString, only the last occurrence of each such tag survives (spec
// 4.1 repair rule 3, used when the schema declares a tag single-value
// string). Returns whether anything changed, so callers can drive a
// fixed-point loop.
func RemoveDuplicateStringSiblings(root *Node, singleString map[string]bool) bool {
	changed := false
	var walk func(n *Node)
	walk = func(n *Node) {
		if len(singleString) > 0 {
			counts := make(map[string]int)
			for _, c := range n.Children {
				if c.Type == ElementNode && singleString[c.TagName] {
					counts[c.TagName]++
				}
			}
			hasDup := false
			for _, c := range counts {
				if c > 1 {
					hasDup = true
					break
				}
			}
			if hasDup {
				kept := make([]*Node, 0, len(n.Children))
				emitted := make(map[string]int)
				for _, c := range n.Children {
					if c.Type == ElementNode && singleString[c.TagName] {
						emitted[c.TagName]++
						if emitted[c.TagName] < counts[c.TagName] {
							changed = true
							continue // drop all but the last occurrence
						}
					}
					kept = append(kept, c)
				}
				n.Children = kept
			}
		}

		for _, c := range n.Children {
			if c.Type == ElementNode {
				walk(c)
			}
		}
	}
	walk(root)
	return changed
}

// RepairDuplicates runs RemoveDuplicateStringSiblings in a fixed-point
// loop bounded by maxReparses, halting early once a pass makes no change
// (spec 9: "repair as a fixed-point loop with budget").
func RepairDuplicates(root *Node, singleString map[string]bool, maxReparses int) {
	for i := 0; i < maxReparses; i++ {
		if !RemoveDuplicateStringSiblings(root, singleString) {
			return
		}
	}
}
