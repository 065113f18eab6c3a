// Package world implements a sector chunked world storage engine on top of a
// transactional key-value store (github.com/ValentinKolb/sectorkv/lib/store).
//
// A world is a rectangle of tiles split into square sectors. Every sector is
// tracked on two independent axes:
//
//   - LoadLevel: how much of the sector is resident in memory
//     (None < Tiles < Entities). Loaded is an alias for Entities.
//   - GenerationLevel: how far the procedural generator got with the sector
//     (None, BaseTiles, MicroDungeons, CaveLiquid, Finalize, Terraform, Complete).
//     Terraform is only entered on explicit request.
//
// Key Components:
//
//   - Storage: The engine. It loads sectors on demand (LoadSector), generates them
//     through the GeneratorFacade (ActivateSector, QueueSectorActivation,
//     GenerateQueue), evicts them when their time-to-live runs out (Tick) and
//     persists resident data (Sync, UnloadAll, ReadChunks).
//
//   - TileArray and EntityMap: The live world. The caller mutates tiles and
//     entities directly, the storage moves them between memory and the store.
//
//   - GeneratorFacade and EntityFactory: Callbacks into the game. The facade
//     generates levels and decides which entities keep a sector alive or are
//     persisted, the factory (de)serializes entities.
//
//   - Unique index: Entities with a unique id can be found and loaded while
//     their sector is on disk (FindUniqueEntity, LoadUniqueEntity).
//
// Key Layout:
//
// Every key is 5 bytes: a tag byte followed by tag specific data. Sector keys
// carry X and Y as big endian uint16, unique index keys a uint32 shard of the
// xxhash of the unique id. Values are zstd compressed records.
//
// Invariants:
//   - A sector at load level L has all neighbours at least at L-1, and a sector
//     at generation level G has all neighbours at least at G-1. Unloading a
//     sector first lowers neighbours that would break this.
//   - Live entities whose owner sector is not tracked are stored by the next
//     Tick, Sync or UnloadAll.
//   - Load and generation levels only move one step at a time.
//   - Generated data is only written through explicit sync or unload calls.
//
// Error Handling:
//
// Any error during a sector operation is fatal: the pending store changes are
// rolled back, the store is closed and every further call returns the same
// error, which is marked with ErrFatal. See Storage.Poisoned.
//
// Thread-safety: A Storage is single threaded and not reentrant. The facade
// must not call back into the storage.
package world
