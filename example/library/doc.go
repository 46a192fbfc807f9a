// Package library is a small lending domain built on entitystore.
//
// Book copies are added to circulation, lent to readers and returned. A lent book copy
// references its reader through a lazily loaded relation, so returning a book copy
// records events on both entities and a single Save persists both.
package library
